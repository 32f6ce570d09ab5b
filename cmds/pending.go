package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

var PendingCmds = &cli.Command{
	Name:        "pending",
	Usage:       "inspect and resolve pending requests",
	Subcommands: []*cli.Command{listPendingCmd, approveRequestCmd, rejectRequestCmd, rejectAllCmd},
}

var listPendingCmd = &cli.Command{
	Name:  "list",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewProviderClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		pending, err := api.ListPendingRequests(cctx.Context)
		if err != nil {
			return err
		}
		pendingBytes, err := json.MarshalIndent(pending, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(pendingBytes))
		return nil
	},
}

var approveRequestCmd = &cli.Command{
	Name:      "approve",
	ArgsUsage: "request-id",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "confirm",
			Usage: "confirm options json forwarded to the submitter",
		},
	},
	Action: func(cctx *cli.Context) error {
		id, err := uuid.Parse(cctx.Args().Get(0))
		if err != nil {
			return fmt.Errorf("parse request id: %w", err)
		}

		api, closer, err := NewProviderClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		var confirm json.RawMessage
		if raw := cctx.String("confirm"); raw != "" {
			confirm = json.RawMessage(raw)
		}
		return api.ApproveRequest(cctx.Context, id, confirm)
	},
}

var rejectRequestCmd = &cli.Command{
	Name:      "reject",
	ArgsUsage: "request-id",
	Action: func(cctx *cli.Context) error {
		id, err := uuid.Parse(cctx.Args().Get(0))
		if err != nil {
			return fmt.Errorf("parse request id: %w", err)
		}

		api, closer, err := NewProviderClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.RejectRequest(cctx.Context, id)
	},
}

var rejectAllCmd = &cli.Command{
	Name: "reject-all",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewProviderClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		n, err := api.RejectAllPending(cctx.Context)
		if err != nil {
			return err
		}
		fmt.Printf("rejected %d requests\n", n)
		return nil
	},
}
