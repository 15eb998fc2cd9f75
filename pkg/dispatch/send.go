package dispatch

import (
	"context"
	"fmt"

	"github.com/beemesh/distributor/pkg/transport"
)

// Send writes the task to s and waits for the peer's response. The stream stays
// open for further tasks.
func Send(ctx context.Context, s transport.Stream, task Task) (Response, error) {
	var zero Response
	transport.ApplyDeadline(ctx, s)
	if err := transport.WriteJSON(s, task); err != nil {
		return zero, fmt.Errorf("send task %s: %w", task.ID, err)
	}
	var resp Response
	if err := transport.ReadJSON(s, &resp); err != nil {
		return zero, fmt.Errorf("await task %s: %w", task.ID, err)
	}
	if resp.TaskID != task.ID {
		return zero, fmt.Errorf("response for task %s while waiting for %s", resp.TaskID, task.ID)
	}
	return resp, nil
}
