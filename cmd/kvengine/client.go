package main

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/GH41318103/kvengine/internal/protocol"
)

func newClientCommand() *cobra.Command {
	var (
		host string
		port string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Interactive RESP client REPL against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(host, port)
		},
	}
	cmd.Flags().StringVarP(&host, "host", "h", "127.0.0.1", "server host")
	cmd.Flags().StringVarP(&port, "port", "p", "6380", "server port")
	return cmd
}

func runClient(host, port string) error {
	conn, err := net.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("client: connect: %w", err)
	}
	defer conn.Close()

	reader := protocol.NewReader(conn)
	writer := protocol.NewWriter(conn)

	l, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s:%s> ", host, port),
		HistoryFile:     "/tmp/kvengine_client_history.tmp",
		InterruptPrompt: "^C",
		EOFPrompt:       "^D",
	})
	if err != nil {
		return fmt.Errorf("client: init readline: %w", err)
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}

		fields := strings.Fields(line)
		if err := writeCommand(writer, fields); err != nil {
			fmt.Println("error:", err)
			return nil
		}

		val, err := reader.ReadValue()
		if err != nil {
			fmt.Println("error:", err)
			return nil
		}
		fmt.Println(formatReply(val))
	}
}

func writeCommand(writer *protocol.Writer, fields []string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%d\r\n", len(fields))
	for _, f := range fields {
		fmt.Fprintf(&sb, "$%d\r\n%s\r\n", len(f), f)
	}
	return writer.WriteRaw(sb.String())
}

func formatReply(v protocol.Value) string {
	switch v.Type {
	case protocol.TypeSimpleString:
		return v.Str
	case protocol.TypeError:
		return "(error) " + v.Str
	case protocol.TypeInteger:
		return fmt.Sprintf("(integer) %d", v.Num)
	case protocol.TypeBulkString:
		if v.Null {
			return "(nil)"
		}
		return fmt.Sprintf("%q", v.Str)
	case protocol.TypeArray:
		if v.Null || len(v.Array) == 0 {
			return "(empty list)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = fmt.Sprintf("%d) %s", i+1, formatReply(item))
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
