package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/galadrimteam/groupchat/internal/chat"
)

var dim = color.New(color.Faint).SprintFunc()

// senderColor maps a CSS hex color (#rgb or #rrggbb) to a terminal color.
// Anything else prints bold.
func senderColor(css string) *color.Color {
	hex, ok := strings.CutPrefix(css, "#")
	if !ok {
		return color.New(color.Bold)
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.New(color.Bold)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.New(color.Bold)
	}
	return color.RGB(int(v>>16&0xff), int(v>>8&0xff), int(v&0xff)).Add(color.Bold)
}

func printMessage(w io.Writer, msg chat.Message) {
	fmt.Fprintf(w, "%s %s: %s\n",
		dim(msg.Timestamp.Local().Format(time.DateTime)),
		senderColor(msg.Color).Sprint(msg.Sender),
		msg.Content,
	)
}
