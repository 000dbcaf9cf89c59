package server

import (
	"context"
	"sync/atomic"
)

// RemoteFrame is the preview iframe of the connected pages. Loading only
// assigns the generation; the pages receive the document with the render
// update and stamp that generation on everything the frame posts.
type RemoteFrame struct {
	generation atomic.Uint64
}

// NewFrame returns the frame a served session renders into.
func NewFrame() *RemoteFrame {
	return &RemoteFrame{}
}

func (f *RemoteFrame) Load(_ context.Context, _ string) (uint64, error) {
	return f.generation.Add(1), nil
}
