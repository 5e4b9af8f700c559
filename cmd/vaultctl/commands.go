package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type options struct {
	baseURL string
	keyHex  string
	user    string
	limit   int
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Command line client for the settlement vault",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.baseURL, "url", "u", "http://localhost:8080", "vault API base URL")
	root.PersistentFlags().StringVarP(&opts.keyHex, "key", "k", os.Getenv("VAULT_PRIVATE_KEY"), "hex private key used to sign requests")

	root.AddCommand(
		&cobra.Command{
			Use:   "address",
			Short: "Print the address of the signing key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := opts.client()
				if err != nil {
					return err
				}
				if c.key == nil {
					return errors.New("--key is required")
				}
				fmt.Fprintln(cmd.OutOrStdout(), crypto.PubkeyToAddress(c.key.PublicKey).Hex())
				return nil
			},
		},
		&cobra.Command{
			Use:   "assets",
			Short: "Show the whitelisted assets and roles",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.call(cmd, http.MethodGet, "/v1/assets", nil)
			},
		},
		&cobra.Command{
			Use:   "balance <user> <asset>",
			Short: "Show a vault balance",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.call(cmd, http.MethodGet, "/v1/balances/"+url.PathEscape(args[0])+"/"+url.PathEscape(args[1]), nil)
			},
		},
		opts.transferCmd("deposit", "Move assets from the user into the vault", "/v1/deposits"),
		opts.transferCmd("withdraw", "Move assets from the vault back to the user", "/v1/withdrawals"),
		&cobra.Command{
			Use:   "set-engine <address>",
			Short: "Appoint the matching engine (admin only)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.call(cmd, http.MethodPut, "/v1/admin/matching-engine", map[string]string{"matching_engine": args[0]})
			},
		},
		&cobra.Command{
			Use:   "settle <file.json|->",
			Short: "Submit a settlement instruction (matching engine only)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				body, err := readInstruction(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
				return opts.call(cmd, http.MethodPost, "/v1/settlements", body)
			},
		},
		&cobra.Command{
			Use:   "settlement <trade_id>",
			Short: "Show a settlement record",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.call(cmd, http.MethodGet, "/v1/settlements/"+url.PathEscape(args[0]), nil)
			},
		},
		opts.historyCmd(),
	)
	return root
}

func (o *options) transferCmd(use, short, path string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <asset> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return errors.Wrapf(err, "invalid amount %q", args[1])
			}
			body := map[string]any{"asset": args[0], "amount": amount}
			if o.user != "" {
				body["user"] = o.user
			}
			return o.call(cmd, http.MethodPost, path, body)
		},
	}
	cmd.Flags().StringVar(&o.user, "user", "", "account to act on (defaults to the signer)")
	return cmd
}

func (o *options) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <user>",
		Short: "Show the most recent trades of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/users/" + url.PathEscape(args[0]) + "/trades"
			if o.limit > 0 {
				path += fmt.Sprintf("?limit=%d", o.limit)
			}
			return o.call(cmd, http.MethodGet, path, nil)
		},
	}
	cmd.Flags().IntVarP(&o.limit, "limit", "l", 0, "number of trades to return (server default when 0)")
	return cmd
}

func (o *options) client() (*client, error) {
	c := &client{base: strings.TrimRight(o.baseURL, "/"), http: &http.Client{Timeout: requestTimeout}}
	if o.keyHex == "" {
		return c, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(o.keyHex, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	c.key = key
	return c, nil
}

func (o *options) call(cmd *cobra.Command, method, path string, payload any) error {
	c, err := o.client()
	if err != nil {
		return err
	}
	return c.do(cmd.Context(), cmd.OutOrStdout(), method, path, payload)
}

func readInstruction(stdin io.Reader, src string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if src == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read instruction")
	}
	if !json.Valid(data) {
		return nil, errors.New("instruction is not valid JSON")
	}
	return json.RawMessage(data), nil
}
