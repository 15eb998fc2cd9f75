package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-msgio"
)

// MaxMessageSize bounds a single frame.
const MaxMessageSize = 1 << 20 // 1 MiB

type deadliner interface {
	SetDeadline(time.Time) error
}

// ApplyDeadline copies ctx's deadline onto streams that support one.
func ApplyDeadline(ctx context.Context, s any) {
	d, ok := s.(deadliner)
	if !ok {
		return
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = d.SetDeadline(deadline)
	} else {
		_ = d.SetDeadline(time.Time{})
	}
}

// WriteJSON writes v as one varint length-prefixed JSON message.
func WriteJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(b) > MaxMessageSize {
		return fmt.Errorf("frame of %d bytes: %w", len(b), msgio.ErrMsgTooLarge)
	}
	if err := msgio.NewVarintWriter(w).WriteMsg(b); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadJSON reads one message written by WriteJSON into v. The reader consumes
// exactly one message, so it can be recreated per call on a long lived stream.
func ReadJSON(r io.Reader, v any) error {
	mr := msgio.NewVarintReaderSize(r, MaxMessageSize)
	b, err := mr.ReadMsg()
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	defer mr.ReleaseMsg(b)
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
