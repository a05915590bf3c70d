package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/galadrimteam/groupchat/internal/chat"
	"github.com/galadrimteam/groupchat/internal/client"
	"github.com/galadrimteam/groupchat/internal/protocol"
)

type SendCmd struct {
	flags  *Flags
	sender string
}

// NewSendCmd creates the send command.
func NewSendCmd(flags *Flags) *SendCmd {
	return &SendCmd{flags: flags}
}

// Register adds the send command to the application.
func (cmd *SendCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "send",
		Usage:     "Publish one message through the REST endpoint",
		UsageText: "chatctl send --as <name> <message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "as",
				Usage:       "sender name",
				Sources:     cli.EnvVars("CHATCTL_SENDER"),
				Required:    true,
				Destination: &cmd.sender,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *SendCmd) run(ctx context.Context, c *cli.Command) error {
	content := strings.Join(c.Args().Slice(), " ")
	if content == "" {
		return errors.New("message is required")
	}

	ack, err := client.Post(ctx, nil, cmd.flags.Server, protocol.PublishRequest{
		Sender:  cmd.sender,
		Content: content,
		Topic:   cmd.flags.Topic,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "accepted on %s at %s\n", ack.Topic, ack.Timestamp.Format(time.RFC3339Nano))
	return nil
}

type ListenCmd struct {
	flags *Flags
}

// NewListenCmd creates the listen command.
func NewListenCmd(flags *Flags) *ListenCmd {
	return &ListenCmd{flags: flags}
}

// Register adds the listen command to the application.
func (cmd *ListenCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "listen",
		Usage: "Print messages published on a topic until interrupted",
		Description: `Subscribes over websocket and prints every message.

The subscription is re-established after a dropped connection. Messages
published while disconnected are not shown.`,
		Action: cmd.run,
	})
	return app
}

func (cmd *ListenCmd) run(ctx context.Context, c *cli.Command) error {
	return client.Listen(ctx, cmd.flags.Server, cmd.flags.Topic,
		func(msg chat.Message) { printMessage(os.Stdout, msg) },
		client.WithLogger(cmd.flags.Logger),
	)
}

type ChatCmd struct {
	flags  *Flags
	sender string
}

// NewChatCmd creates the interactive chat command.
func NewChatCmd(flags *Flags) *ChatCmd {
	return &ChatCmd{flags: flags}
}

// Register adds the chat command to the application.
func (cmd *ChatCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "chat",
		Usage:     "Join a topic: read lines from stdin and print what others say",
		UsageText: "chatctl chat --as <name>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "as",
				Usage:       "sender name",
				Sources:     cli.EnvVars("CHATCTL_SENDER"),
				Required:    true,
				Destination: &cmd.sender,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *ChatCmd) run(ctx context.Context, c *cli.Command) error {
	conn, err := client.Dial(ctx, cmd.flags.Server, cmd.flags.Topic, client.WithLogger(cmd.flags.Logger))
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Fprintf(os.Stderr, "joined %s as %s (session %s)\n", conn.Session().Topic, cmd.sender, conn.Session().ID)

	go func() {
		for msg := range conn.Messages() {
			printMessage(os.Stdout, msg)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			if err := conn.Err(); err != nil {
				return fmt.Errorf("connection lost: %w", err)
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, err := conn.Publish(ctx, cmd.sender, line); err != nil {
				fmt.Fprintln(os.Stderr, "not sent:", err)
			}
		}
	}
}
