package engine

import (
	"bufio"
	"regexp"
	"strings"
)

// Container is one row of `udocker ps`.
type Container struct {
	ID    string
	Names []string
	Image string
}

func (c Container) HasName(name string) bool {
	for _, n := range c.Names {
		if n == name {
			return true
		}
	}
	return false
}

// CONTAINER ID   P M NAMES            IMAGE
// 3f1b...-...    . W ['lambda_cont']  alpine:latest
var psLine = regexp.MustCompile(`^(\S+)\s+\S+\s+\S+\s+\[(.*)\]\s+(\S+)\s*$`)

// parseImages reads `udocker images`: a REPOSITORY header then one image per line.
func parseImages(out string) []string {
	var images []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] == "REPOSITORY" {
			continue
		}
		images = append(images, fields[0])
	}
	return images
}

func parseContainers(out string) []Container {
	var containers []Container
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		m := psLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		containers = append(containers, Container{
			ID:    m[1],
			Names: parseNames(m[2]),
			Image: m[3],
		})
	}
	return containers
}

func parseNames(list string) []string {
	var names []string
	for _, part := range strings.Split(list, ",") {
		name := strings.Trim(strings.TrimSpace(part), `'"`)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
