// Package tgui provides small Telegram UI helpers for HTML parse mode:
//   - escaping and inline tag helpers (B, I, Code)
//   - a line builder for multi-line replies
//   - rune-safe truncation
package tgui
