// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStreamingBufferBatchFlush(t *testing.T) {
	sb := NewStreamingBufferWithConfig(5, 30)

	// Below the batch threshold and inside the frame window: no flush.
	for i := 0; i < 4; i++ {
		sb.Write("tok ")
	}
	if _, ok := sb.Flush(); ok {
		t.Error("Flush() fired below batch threshold")
	}
	if got := sb.Pending(); got != 4 {
		t.Errorf("Pending() = %d, want 4", got)
	}

	// Crossing the threshold triggers a flush with all content.
	sb.Write("tok ")
	content, ok := sb.Flush()
	if !ok {
		t.Fatal("Flush() did not fire at batch threshold")
	}
	if content != strings.Repeat("tok ", 5) {
		t.Errorf("Flush() content = %q", content)
	}
	if got := sb.Pending(); got != 0 {
		t.Errorf("Pending() after flush = %d, want 0", got)
	}
}

func TestStreamingBufferTimeFlush(t *testing.T) {
	// 60fps floor keeps this test fast: min flush interval is ~16ms.
	sb := NewStreamingBufferWithConfig(1000, 60)

	sb.Write("slow token")
	if _, ok := sb.Flush(); ok {
		t.Error("Flush() fired before the frame window elapsed")
	}

	time.Sleep(25 * time.Millisecond)
	content, ok := sb.Flush()
	if !ok {
		t.Fatal("Flush() did not fire after the frame window")
	}
	if content != "slow token" {
		t.Errorf("Flush() content = %q", content)
	}
}

func TestStreamingBufferEmptyNeverFlushes(t *testing.T) {
	sb := NewStreamingBuffer()
	if sb.ShouldFlush() {
		t.Error("ShouldFlush() = true on empty buffer")
	}
	if _, ok := sb.Flush(); ok {
		t.Error("Flush() fired on empty buffer")
	}
	if _, ok := sb.ForceFlush(); ok {
		t.Error("ForceFlush() fired on empty buffer")
	}
}

func TestStreamingBufferForceFlush(t *testing.T) {
	sb := NewStreamingBufferWithConfig(1000, 1)

	sb.Write("tail")
	content, ok := sb.ForceFlush()
	if !ok || content != "tail" {
		t.Errorf("ForceFlush() = %q, %v", content, ok)
	}
	if got := sb.Pending(); got != 0 {
		t.Errorf("Pending() after force flush = %d, want 0", got)
	}
}

func TestStreamingBufferReset(t *testing.T) {
	sb := NewStreamingBuffer()
	sb.Write("abandoned")
	sb.Reset()

	if got := sb.Pending(); got != 0 {
		t.Errorf("Pending() after reset = %d, want 0", got)
	}
	if _, ok := sb.ForceFlush(); ok {
		t.Error("content survived Reset()")
	}
}

func TestStreamingBufferConfigClamps(t *testing.T) {
	tests := []struct {
		name      string
		batchSize int
		maxFPS    int
	}{
		{"zero values", 0, 0},
		{"negative batch", -5, 30},
		{"excessive fps", 15, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := NewStreamingBufferWithConfig(tt.batchSize, tt.maxFPS)
			if sb.batchSize <= 0 {
				t.Errorf("batchSize = %d, want positive", sb.batchSize)
			}
			if sb.maxFPS <= 0 || sb.maxFPS > 60 {
				t.Errorf("maxFPS = %d, want 1-60", sb.maxFPS)
			}
		})
	}
}

func TestStreamingBufferConcurrentWrites(t *testing.T) {
	sb := NewStreamingBufferWithConfig(100000, 1)

	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				sb.Write(fmt.Sprintf("w%d;", id))
			}
		}(w)
	}
	wg.Wait()

	content, ok := sb.ForceFlush()
	if !ok {
		t.Fatal("no content after concurrent writes")
	}
	if got := strings.Count(content, ";"); got != writers*perWriter {
		t.Errorf("token count = %d, want %d", got, writers*perWriter)
	}
}
