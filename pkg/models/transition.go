package models

// BlockingTask identifies a prerequisite that is holding up a transition.
type BlockingTask struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Status TaskStatus `json:"status"`
}

// TransitionResult is the outcome of a status transition request. A refused
// transition is not an error: Allowed is false and Blocking lists the
// prerequisites that are not yet done, in prerequisite order.
type TransitionResult struct {
	Allowed  bool           `json:"allowed"`
	From     TaskStatus     `json:"from"`
	To       TaskStatus     `json:"to"`
	Blocking []BlockingTask `json:"blocking,omitempty"`
}
