package notify

import "context"

// MultiChannel fans a message out to several channels. The first
// error is returned after every channel was tried.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel constructs a MultiChannel; nil entries are skipped.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	multi := &MultiChannel{}
	for _, channel := range channels {
		if channel != nil {
			multi.channels = append(multi.channels, channel)
		}
	}
	return multi
}

// Send forwards the message to all channels.
func (m *MultiChannel) Send(ctx context.Context, groupID, content string) error {
	if m == nil {
		return nil
	}
	var first error
	for _, channel := range m.channels {
		if err := channel.Send(ctx, groupID, content); err != nil && first == nil {
			first = err
		}
	}
	return first
}
