package domain

import "context"

// Reactor applies and removes named reactions on a message addressed by
// channel and timestamp.
type Reactor interface {
	AddReaction(ctx context.Context, name, channel, ts string) error
	RemoveReaction(ctx context.Context, name, channel, ts string) error
}

// Poster sends plain text into a conversation. threadTS may be empty.
type Poster interface {
	PostText(ctx context.Context, channel, threadTS, text string) error
}

// Processor turns one inbound item into exactly one Response.
type Processor interface {
	Process(ctx context.Context, in Inbound) Response
}
