package hsp

import "fmt"

// Broadcast topics shared by every node on the bus.
const (
	TopicFacts        = "hsp/knowledge/facts"
	TopicCapabilities = "hsp/capabilities/advertisements"
)

// RequestTopic returns the unicast topic on which an agent receives task
// requests.
func RequestTopic(agentID string) string {
	return fmt.Sprintf("hsp/requests/%s", agentID)
}

// ResultTopic returns the unicast topic on which an agent receives task
// results.
func ResultTopic(agentID string) string {
	return fmt.Sprintf("hsp/results/%s", agentID)
}

// AckTopic returns the unicast topic on which an agent receives
// acknowledgements.
func AckTopic(agentID string) string {
	return fmt.Sprintf("hsp/acks/%s", agentID)
}
