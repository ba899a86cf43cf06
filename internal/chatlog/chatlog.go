// Package chatlog is an append-only, recipient-addressed text log. Each
// line reads "[timestamp] [@recipient] sender: body" and bodies are a
// single line.
package chatlog

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

const timeLayout = "2006-01-02T15:04:05"

const pollInterval = 500 * time.Millisecond

var messagePattern = regexp.MustCompile(
	`^\[(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})\] \[@([^\]]+)\] ([^:]+): (.+)$`,
)

type Message struct {
	Timestamp time.Time
	Recipient string
	Sender    string
	Body      string
	Raw       string
}

type ChatLog struct {
	path string
	mu   sync.Mutex // serializes writers within this process
	now  func() time.Time
}

func New(path string) *ChatLog {
	return &ChatLog{path: path, now: time.Now}
}

func (c *ChatLog) Path() string {
	return c.path
}

// ParseMessage parses a single chatlog line into a Message.
func ParseMessage(line string) (Message, error) {
	matches := messagePattern.FindStringSubmatch(strings.TrimSpace(line))
	if matches == nil {
		return Message{}, fmt.Errorf("invalid message format: %s", line)
	}

	ts, err := time.Parse(timeLayout, matches[1])
	if err != nil {
		return Message{}, fmt.Errorf("parse timestamp: %w", err)
	}

	return Message{
		Timestamp: ts,
		Recipient: matches[2],
		Sender:    matches[3],
		Body:      matches[4],
		Raw:       line,
	}, nil
}

// FormatMessage creates a formatted chatlog line stamped at ts. Newlines
// in body are folded into spaces so the line stays parseable.
func FormatMessage(ts time.Time, recipient, sender, body string) string {
	body = strings.Join(strings.Fields(body), " ")
	return fmt.Sprintf("[%s] [@%s] %s: %s", ts.Format(timeLayout), recipient, sender, body)
}

// Append writes a new formatted message to the chatlog file.
func (c *ChatLog) Append(recipient, sender, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("append chatlog: empty body")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open chatlog for append: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, FormatMessage(c.now(), recipient, sender, body)); err != nil {
		return fmt.Errorf("write chatlog: %w", err)
	}
	return nil
}

// Poll reads all messages from the log file addressed to recipient. An
// empty recipient matches every message.
func (c *ChatLog) Poll(recipient string) ([]Message, error) {
	messages, _, err := c.readFrom(0, recipient)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("poll chatlog: %w", err)
	}
	return messages, nil
}

// Watch yields messages appended after the call that are addressed to
// recipient, until ctx is cancelled. An empty recipient watches
// everything.
func (c *ChatLog) Watch(ctx context.Context, recipient string) <-chan Message {
	ch := make(chan Message, 16)

	go func() {
		defer close(ch)

		var offset int64
		if info, err := os.Stat(c.path); err == nil {
			offset = info.Size()
		}

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				newMessages, newOffset, err := c.readFrom(offset, recipient)
				if err != nil {
					continue
				}
				offset = newOffset
				for _, msg := range newMessages {
					select {
					case ch <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// WatchAll is Watch without a recipient filter.
func (c *ChatLog) WatchAll(ctx context.Context) <-chan Message {
	return c.Watch(ctx, "")
}

// Truncate keeps only the latest maxLines lines, replacing the file
// atomically. Missing or short files are left alone.
func (c *ChatLog) Truncate(maxLines int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read chatlog: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) <= maxLines {
		return nil
	}

	removed := len(lines) - maxLines
	newContent := strings.Join(lines[removed:], "\n") + "\n"

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(newContent), 0644); err != nil {
		return fmt.Errorf("write temp chatlog: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename chatlog: %w", err)
	}

	log.Printf("[chatlog] truncated %d lines, keeping latest %d", removed, maxLines)
	return nil
}

func (c *ChatLog) readFrom(offset int64, recipient string) ([]Message, int64, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}

	if info.Size() < offset {
		// Truncated underneath us; resume at the new end rather than replay.
		return nil, info.Size(), nil
	}
	if info.Size() == offset {
		return nil, offset, nil
	}

	if _, err := f.Seek(offset, 0); err != nil {
		return nil, offset, err
	}

	var messages []Message
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		msg, err := ParseMessage(line)
		if err != nil {
			continue // skip malformed lines
		}
		if recipient == "" || msg.Recipient == recipient {
			messages = append(messages, msg)
		}
	}

	return messages, info.Size(), scanner.Err()
}
