package bot

import "outagebot/internal/transport"

// menuCommands is the Telegram command menu, also rendered by /help.
var menuCommands = []transport.BotCommand{
	{Command: "start", Description: "Головне меню"},
	{Command: "today", Description: "Графік на сьогодні"},
	{Command: "tomorrow", Description: "Графік на завтра"},
	{Command: "status", Description: "Заплановані нагадування"},
	{Command: "help", Description: "Справка"},
}

// MenuCommands returns a copy of the command menu.
func MenuCommands() []transport.BotCommand {
	return append([]transport.BotCommand(nil), menuCommands...)
}
