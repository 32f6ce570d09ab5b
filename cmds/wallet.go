package cmds

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var passphraseFlag = &cli.StringFlag{
	Name:     "passphrase",
	Usage:    "keystore passphrase",
	Required: true,
}

var WalletCmds = &cli.Command{
	Name:        "wallet",
	Usage:       "manage the daemon keystore",
	Subcommands: []*cli.Command{listAccountsCmd, newAccountCmd, unlockWalletCmd, lockWalletCmd, walletStatusCmd},
}

var listAccountsCmd = &cli.Command{
	Name:  "list",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewProviderClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		accounts, err := api.ListAccounts(cctx.Context)
		if err != nil {
			return err
		}
		for _, addr := range accounts {
			fmt.Println(addr.Hex())
		}
		return nil
	},
}

var newAccountCmd = &cli.Command{
	Name:  "new",
	Flags: []cli.Flag{passphraseFlag},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewProviderClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		addr, err := api.NewAccount(cctx.Context, cctx.String("passphrase"))
		if err != nil {
			return err
		}
		fmt.Println(addr.Hex())
		return nil
	},
}

var unlockWalletCmd = &cli.Command{
	Name:  "unlock",
	Flags: []cli.Flag{passphraseFlag},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewProviderClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.UnlockWallet(cctx.Context, cctx.String("passphrase"))
	},
}

var lockWalletCmd = &cli.Command{
	Name: "lock",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewProviderClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.LockWallet(cctx.Context)
	},
}

var walletStatusCmd = &cli.Command{
	Name: "status",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewProviderClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		unlocked, err := api.WalletUnlocked(cctx.Context)
		if err != nil {
			return err
		}
		if unlocked {
			fmt.Println("unlocked")
		} else {
			fmt.Println("locked")
		}
		return nil
	},
}
