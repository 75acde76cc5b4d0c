package runtime

import (
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
)

// Request is the payload delivered per invocation. Every field is optional.
type Request struct {
	Records []events.S3EventRecord `json:"Records"`
	Script  string                 `json:"script"`
	CmdArgs []string               `json:"cmd_args"`
}

// InputObject names a single object to stage before execution.
type InputObject struct {
	Bucket string
	Key    string
}

func ParseRequest(payload []byte) (req Request, err error) {
	if len(payload) == 0 {
		return
	}
	err = json.Unmarshal(payload, &req)
	return
}

// Inputs returns the objects referenced by the request's storage-event records.
func (r Request) Inputs() []InputObject {
	var inputs []InputObject
	for _, record := range r.Records {
		inputs = append(inputs, InputObject{
			Bucket: record.S3.Bucket.Name,
			Key:    record.S3.Object.Key,
		})
	}
	return inputs
}
