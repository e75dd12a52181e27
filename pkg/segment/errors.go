package segment

import "fmt"

// InvalidParameterError reports a segmentation parameter outside its domain.
type InvalidParameterError struct {
	Name   string
	Value  interface{}
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%v: %s", e.Name, e.Value, e.Reason)
}

// ShapeMismatchError reports a chunk whose slice count disagrees with its
// index range, or whose backing data disagrees with its dimensions.
type ShapeMismatchError struct {
	IndStart int
	IndEnd   int
	Depth    int
	Detail   string
}

func (e *ShapeMismatchError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("chunk [%d, %d) shape mismatch: %s", e.IndStart, e.IndEnd, e.Detail)
	}
	return fmt.Sprintf("chunk [%d, %d) expects %d slices, got %d",
		e.IndStart, e.IndEnd, e.IndEnd-e.IndStart, e.Depth)
}
