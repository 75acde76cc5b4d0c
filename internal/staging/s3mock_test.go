package staging

import (
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/mock"
)

type mockS3 struct {
	s3iface.S3API
	mock.Mock

	// bodies captures uploaded content by key
	bodies map[string]string
}

func newMockS3() *mockS3 {
	return &mockS3{bodies: map[string]string{}}
}

func (m *mockS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	args := m.MethodCalled("GetObject", aws.StringValue(in.Bucket), aws.StringValue(in.Key))
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	key := aws.StringValue(in.Key)
	if in.Body != nil {
		data, _ := io.ReadAll(in.Body)
		m.bodies[key] = string(data)
	}
	args := m.MethodCalled("PutObject", aws.StringValue(in.Bucket), key)
	return &s3.PutObjectOutput{}, args.Error(0)
}

func (m *mockS3) PutObjectAclWithContext(ctx aws.Context, in *s3.PutObjectAclInput, opts ...request.Option) (*s3.PutObjectAclOutput, error) {
	args := m.MethodCalled("PutObjectAcl", aws.StringValue(in.Bucket), aws.StringValue(in.Key), aws.StringValue(in.ACL))
	return &s3.PutObjectAclOutput{}, args.Error(0)
}
