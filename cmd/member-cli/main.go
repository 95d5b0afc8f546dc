package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/identity-sdk/cmd/flags"
	"github.com/ruteri/identity-sdk/gateway"
	"github.com/ruteri/identity-sdk/interfaces"
	"github.com/ruteri/identity-sdk/keyring"
	"github.com/ruteri/identity-sdk/sdk"
)

var aliasFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "alias-type",
		Value: "EMAIL",
		Usage: "alias type: EMAIL, DOMAIN, or PHONE",
	},
	&cli.StringFlag{
		Name:  "alias",
		Usage: "alias value",
	},
	&cli.StringFlag{
		Name:  "realm",
		Value: "",
		Usage: "alias realm (defaults to the member's partner affiliation)",
	},
}

func main() {
	baseFlags := append([]cli.Flag{
		flags.GatewayAddrFlag,
		flags.KeyStoreFlag,
		flags.KeyStorePassphraseFlag,
	}, flags.CommonFlags...)

	app := &cli.App{
		Name:  "member-cli",
		Usage: "Manage member identities against a gateway",
		Flags: baseFlags,
		Commands: []*cli.Command{
			{
				Name:   "create-member",
				Usage:  "Create a member with a full key set, optionally attaching an alias",
				Flags:  aliasFlags,
				Action: runCreateMember,
			},
			{
				Name:   "add-alias",
				Usage:  "Attach an alias to an existing member",
				Flags:  append([]cli.Flag{memberIDFlag()}, aliasFlags...),
				Action: runAddAlias,
			},
			{
				Name:   "remove-non-stored-keys",
				Usage:  "Remove server-side keys with no private counterpart in the local key store",
				Flags:  []cli.Flag{memberIDFlag()},
				Action: runRemoveNonStoredKeys,
			},
			{
				Name:   "resolve-alias",
				Usage:  "Resolve an alias to a member ID",
				Flags:  aliasFlags,
				Action: runResolveAlias,
			},
			{
				Name:   "begin-recovery",
				Usage:  "Start account recovery for the member an alias resolves to",
				Flags:  aliasFlags,
				Action: runBeginRecovery,
			},
			{
				Name:  "complete-recovery",
				Usage: "Complete verification-code recovery, replacing the member's keys",
				Flags: []cli.Flag{
					memberIDFlag(),
					&cli.StringFlag{Name: "verification-id", Required: true, Usage: "verification ID from begin-recovery"},
					&cli.StringFlag{Name: "code", Required: true, Usage: "out-of-band verification code"},
				},
				Action: runCompleteRecovery,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func memberIDFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "member-id",
		Required: true,
		Usage:    "member ID to operate on",
	}
}

func newClient(cCtx *cli.Context) *sdk.Client {
	logger := flags.SetupLogger(cCtx, "member-cli")
	gw := gateway.NewClient(cCtx.String(flags.GatewayAddrFlag.Name))
	return sdk.NewClient(gw, sdk.WithLogger(logger))
}

func openStore(cCtx *cli.Context) (keyring.KeyStore, error) {
	path := cCtx.String(flags.KeyStoreFlag.Name)
	if path == "" {
		return keyring.NewMemoryStore(), nil
	}
	passphrase := cCtx.String(flags.KeyStorePassphraseFlag.Name)
	if passphrase == "" {
		return nil, errors.New("keystore-passphrase is required when keystore is set")
	}
	return keyring.NewFileStore(path, passphrase), nil
}

func aliasFromFlags(cCtx *cli.Context) (*interfaces.Alias, error) {
	value := cCtx.String("alias")
	if value == "" {
		return nil, nil
	}
	alias := interfaces.Alias{
		Type:  interfaces.AliasType(cCtx.String("alias-type")),
		Value: value,
		Realm: cCtx.String("realm"),
	}
	if err := alias.Validate(); err != nil {
		return nil, err
	}
	return &alias, nil
}

func runCreateMember(cCtx *cli.Context) error {
	client := newClient(cCtx)
	store, err := openStore(cCtx)
	if err != nil {
		return err
	}
	alias, err := aliasFromFlags(cCtx)
	if err != nil {
		return err
	}

	session, err := client.CreateMemberWithStore(cCtx.Context, alias, store)
	if err != nil {
		return err
	}
	return printJSON(session.State().Snapshot())
}

func runAddAlias(cCtx *cli.Context) error {
	client := newClient(cCtx)
	store, err := openStore(cCtx)
	if err != nil {
		return err
	}
	alias, err := aliasFromFlags(cCtx)
	if err != nil {
		return err
	}
	if alias == nil {
		return errors.New("alias is required")
	}

	session, err := client.Login(cCtx.Context, cCtx.String("member-id"), keyring.NewWithStore(store))
	if err != nil {
		return err
	}
	if err := session.AddAlias(cCtx.Context, *alias); err != nil {
		return err
	}
	return printJSON(session.State().Snapshot())
}

func runRemoveNonStoredKeys(cCtx *cli.Context) error {
	client := newClient(cCtx)
	store, err := openStore(cCtx)
	if err != nil {
		return err
	}

	session, err := client.Login(cCtx.Context, cCtx.String("member-id"), keyring.NewWithStore(store))
	if err != nil {
		return err
	}
	if err := session.RemoveNonStoredKeys(cCtx.Context); err != nil {
		return err
	}
	return printJSON(session.State().Snapshot())
}

func runResolveAlias(cCtx *cli.Context) error {
	client := newClient(cCtx)
	alias, err := aliasFromFlags(cCtx)
	if err != nil {
		return err
	}
	if alias == nil {
		return errors.New("alias is required")
	}

	memberID, err := client.GetMemberID(cCtx.Context, *alias)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"memberId": memberID})
}

func runBeginRecovery(cCtx *cli.Context) error {
	client := newClient(cCtx)
	alias, err := aliasFromFlags(cCtx)
	if err != nil {
		return err
	}
	if alias == nil {
		return errors.New("alias is required")
	}

	_, verificationID, err := client.BeginRecovery(cCtx.Context, *alias)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"verificationId": verificationID})
}

func runCompleteRecovery(cCtx *cli.Context) error {
	client := newClient(cCtx)
	store, err := openStore(cCtx)
	if err != nil {
		return err
	}

	session, err := client.CompleteRecoveryWithDefaultRule(
		cCtx.Context,
		cCtx.String("member-id"),
		cCtx.String("verification-id"),
		cCtx.String("code"),
		keyring.NewWithStore(store),
	)
	if err != nil {
		return err
	}
	return printJSON(session.State().Snapshot())
}

func printJSON(payload any) error {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
