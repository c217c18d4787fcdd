package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/acidburn0zzz/spice-xpi/cli/render"
	"github.com/acidburn0zzz/spice-xpi/iox"
	"github.com/acidburn0zzz/spice-xpi/ipc"
)

// DecodedMessage is one row of decode output.
type DecodedMessage struct {
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	Size    uint32 `json:"size"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// DecodeCommand returns the decode command.
func DecodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode a captured controller byte stream",
		ArgsUsage: "<file|->",
		Flags:     []cli.Flag{FormatFlag},
		Action:    decodeAction,
	}
}

func decodeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("decode requires exactly one <file|->", 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	in := c.App.Reader
	if name := c.Args().First(); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot open %s: %v", name, err), 1)
		}
		defer iox.DiscardClose(f)
		in = f
	}

	rows, decodeErr := decodeStream(in)
	if err := r.Render(rows); err != nil {
		return err
	}
	if decodeErr != nil {
		return cli.Exit(fmt.Sprintf("stream damaged after %d messages: %v", len(rows), decodeErr), 1)
	}
	return nil
}

// decodeStream reads messages until EOF. Malformed messages become rows
// carrying the error; a fatal frame error stops decoding and is returned
// with the rows read so far.
func decodeStream(in io.Reader) ([]DecodedMessage, error) {
	dec := ipc.NewDecoder(in)
	rows := []DecodedMessage{}
	for {
		msg, err := dec.ReadMessage()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			if ipc.IsFatalFrameError(err) {
				return rows, err
			}
			rows = append(rows, DecodedMessage{Index: len(rows), Error: err.Error()})
			continue
		}
		rows = append(rows, DecodedMessage{
			Index:   len(rows),
			Kind:    msg.Kind.String(),
			Size:    msg.Size(),
			Message: msg.String(),
		})
	}
}
