package mqtt

import "fmt"

// TopicRoot is the first level of every bridge topic.
const TopicRoot = "directout"

// Topics builds the topics of one site:
//
//	directout/{site}/variable/{name}   retained variable values
//	directout/{site}/recorded          recorded actions
//	directout/{site}/health            retained bridge and device status
//	directout/{site}/command/action    inbound action requests
//	directout/{site}/command/set       inbound set requests
//	directout/{site}/ack               command results
type Topics struct {
	Site string
}

func (t Topics) prefix() string {
	return fmt.Sprintf("%s/%s", TopicRoot, t.Site)
}

// Variable returns the topic carrying one variable value.
//
// Example: directout/studio-a/variable/input_mute_3
func (t Topics) Variable(name string) string {
	return fmt.Sprintf("%s/variable/%s", t.prefix(), name)
}

// Recorded returns the topic recorded actions are published on.
func (t Topics) Recorded() string {
	return t.prefix() + "/recorded"
}

// Health returns the status topic. It also carries the Last Will.
func (t Topics) Health() string {
	return t.prefix() + "/health"
}

// CommandAction returns the topic on which action requests arrive.
func (t Topics) CommandAction() string {
	return t.prefix() + "/command/action"
}

// CommandSet returns the topic on which set requests arrive.
func (t Topics) CommandSet() string {
	return t.prefix() + "/command/set"
}

// Ack returns the topic command results are published on.
func (t Topics) Ack() string {
	return t.prefix() + "/ack"
}

// AllCommands matches every command topic of the site.
//
// Pattern: directout/{site}/command/+
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/+"
}

// AllVariables matches every variable topic of the site.
//
// Pattern: directout/{site}/variable/+
func (t Topics) AllVariables() string {
	return t.prefix() + "/variable/+"
}
