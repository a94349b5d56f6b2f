// Package agent is the single entry point for invoking the shared
// conversational agent. The agent runtime owns per-thread memory; callers
// address it purely by thread ID and never read its state back, with one
// exception: UpdateState appends a synthetic assistant turn without running
// inference, used to seed job context into a conversation.
package agent
