package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/schema"
	"github.com/crystaldolphin/memshard/internal/shared/cmdutils"
)

var msgName string

var msgCmd = &cobra.Command{
	Use:   "msg",
	Short: "Inspect and edit chat messages",
}

var msgListCmd = &cobra.Command{
	Use:   "list CHAT [SPAN]",
	Short: "List messages",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runMsgList,
}

var msgAddCmd = &cobra.Command{
	Use:   "add CHAT ROLE CONTENT",
	Short: "Append a message",
	Args:  cobra.ExactArgs(3),
	RunE:  runMsgAdd,
}

var msgInsertCmd = &cobra.Command{
	Use:   "insert CHAT INDEX ROLE CONTENT",
	Short: "Insert a message before INDEX",
	Args:  cobra.ExactArgs(4),
	RunE:  runMsgInsert,
}

var msgDeleteCmd = &cobra.Command{
	Use:   "delete CHAT SPAN",
	Short: "Delete a span of messages",
	Args:  cobra.ExactArgs(2),
	RunE:  runMsgDelete,
}

func init() {
	for _, c := range []*cobra.Command{msgAddCmd, msgInsertCmd} {
		c.Flags().StringVarP(&msgName, "name", "n", "", "Speaker name")
	}
	msgCmd.AddCommand(msgListCmd, msgAddCmd, msgInsertCmd, msgDeleteCmd)
}

func runMsgList(_ *cobra.Command, args []string) error {
	c, err := openContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	sess, err := c.Chats().Session(args[0])
	if err != nil {
		return err
	}
	start, end := 0, sess.Len()-1
	if len(args) == 2 {
		if start, end, err = ranges.ParseSpan(args[1]); err != nil {
			return err
		}
	}
	cmdutils.PrintMessages(os.Stdout, sess.Messages(start, end), max(start, 0))
	return nil
}

func runMsgAdd(_ *cobra.Command, args []string) error {
	return editChat(args[0], func(h chatEditor) error {
		m, err := h.Insert(h.Len(), schema.Message{Role: args[1], Name: msgName, Content: args[2]})
		if err == nil {
			fmt.Printf("✓ added %s at %d\n", m[0].ID, h.Len()-1)
		}
		return err
	})
}

func runMsgInsert(_ *cobra.Command, args []string) error {
	at, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[1])
	}
	return editChat(args[0], func(h chatEditor) error {
		m, err := h.Insert(at, schema.Message{Role: args[2], Name: msgName, Content: args[3]})
		if err == nil {
			fmt.Printf("✓ inserted %s at %d\n", m[0].ID, at)
		}
		return err
	})
}

func runMsgDelete(_ *cobra.Command, args []string) error {
	start, end, err := ranges.ParseSpan(args[1])
	if err != nil {
		return err
	}
	return editChat(args[0], func(h chatEditor) error {
		if err := h.Delete(start, end); err != nil {
			return err
		}
		fmt.Printf("✓ deleted %s\n", ranges.FormatSpan(start, end))
		return nil
	})
}

type chatEditor interface {
	Len() int
	Insert(at int, msgs ...schema.Message) ([]schema.Message, error)
	Delete(start, end int) error
}

// editChat runs fn on the chat session with its keeper listening, so hidden
// ranges follow the edit, then saves the session.
func editChat(chat string, fn func(chatEditor) error) error {
	c, err := openContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	sess, err := c.Chats().Session(chat)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	return c.Chats().Persist(chat)
}
