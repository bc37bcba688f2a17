package bus

import "fmt"

// Topic names, relative to the configured prefix (default: "wrench_detection").

// TopicCamera is the camera frame feed.
// Subscribes: protocol frame messages or raw image bytes
const TopicCamera = "camera"

// TopicGoal is the goal submission topic.
// Subscribes: protocol goal messages (an empty payload is also a goal)
const TopicGoal = "goal"

// TopicResult is the detection result topic.
// Publishes: protocol result messages
const TopicResult = "result"

// TopicStatus is the goal status topic.
// Publishes: protocol goal_status messages
const TopicStatus = "status"

// Topics is a helper to build fully-qualified topic names.
type Topics struct {
	prefix string
}

// NewTopics creates a Topics helper with the given prefix.
func NewTopics(prefix string) *Topics {
	return &Topics{prefix: prefix}
}

// Camera returns the full camera topic path.
func (t *Topics) Camera() string {
	return fmt.Sprintf("%s/%s", t.prefix, TopicCamera)
}

// Goal returns the full goal topic path.
func (t *Topics) Goal() string {
	return fmt.Sprintf("%s/%s", t.prefix, TopicGoal)
}

// Result returns the full result topic path.
func (t *Topics) Result() string {
	return fmt.Sprintf("%s/%s", t.prefix, TopicResult)
}

// Status returns the full status topic path.
func (t *Topics) Status() string {
	return fmt.Sprintf("%s/%s", t.prefix, TopicStatus)
}
