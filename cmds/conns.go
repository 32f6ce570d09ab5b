package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

var ConnsCmds = &cli.Command{
	Name:        "conns",
	Usage:       "list connected provider ports",
	Subcommands: []*cli.Command{listConnsCmd},
}

var listConnsCmd = &cli.Command{
	Name:  "list",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewProviderClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		conns, err := api.ListConnections(cctx.Context)
		if err != nil {
			return err
		}
		connsBytes, err := json.MarshalIndent(conns, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(connsBytes))
		return nil
	},
}

var PermsCmds = &cli.Command{
	Name:        "perms",
	Usage:       "inspect and revoke site permissions",
	Subcommands: []*cli.Command{listPermsCmd, revokePermCmd},
}

var listPermsCmd = &cli.Command{
	Name:  "list",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewProviderClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		sites, err := api.ListPermissions(cctx.Context)
		if err != nil {
			return err
		}
		sitesBytes, err := json.MarshalIndent(sites, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(sitesBytes))
		return nil
	},
}

var revokePermCmd = &cli.Command{
	Name:      "revoke",
	ArgsUsage: "origin account",
	Action: func(cctx *cli.Context) error {
		origin := cctx.Args().Get(0)
		account := cctx.Args().Get(1)
		if origin == "" || !common.IsHexAddress(account) {
			return fmt.Errorf("usage: perms revoke <origin> <account>")
		}

		api, closer, err := NewProviderClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.RevokePermission(cctx.Context, origin, common.HexToAddress(account))
	},
}
