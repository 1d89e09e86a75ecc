// Copyright 2025 Certen Protocol
//
// Command wallet-cli is an interactive §4.10 wallet shell: it holds one
// *wallet.Wallet in memory for the life of the process and reads
// commands from stdin, one per line, dispatching each through a cobra
// command tree (grounded on the teacher's config package's flag-parsing
// conventions, generalized from a one-shot process flag set to a
// repeatedly re-parsed line of tokens).
//
// Like the teacher's dcrd rpctest memWallet (other_examples), this
// wallet never persists its keys or coins across restarts; mint and
// new_address exist to stand a demo wallet up from scratch within a
// single session.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cbdc-core/settlement/pkg/bootstrap"
	"github.com/cbdc-core/settlement/pkg/config"
	"github.com/cbdc-core/settlement/pkg/rpcclient"
	"github.com/cbdc-core/settlement/pkg/sentinel"
	"github.com/cbdc-core/settlement/pkg/txmodel"
	"github.com/cbdc-core/settlement/pkg/wallet"
	"github.com/cbdc-core/settlement/pkg/xsign"
)

// atomizerBootstrap adapts an atomizer connection to wallet.BootstrapSubmitter
// for mint transactions in atomizer-mode topologies, where there is no
// coordinator leader to submit bootstrap mints to. A mint tx carries no
// inputs, so its confirmed-input set is trivially complete (none are
// owed); Execute reports "committed" as soon as
// the atomizer accepts the tx into its pending pool, not once it has
// actually been cut into a block — the wallet's background Sync against
// the watchtower is what later learns the real settlement outcome.
type atomizerBootstrap struct {
	client rpcclient.AtomizerClient
}

func (b atomizerBootstrap) Execute(_ context.Context, tx txmodel.FullTx) (bool, error) {
	txErr := b.client.Insert(0, tx.ToCTX(), map[txmodel.Hash]struct{}{})
	if txErr != nil {
		return false, fmt.Errorf("wallet-cli: mint rejected: %s", txErr.Kind)
	}
	return true, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: wallet-cli <config file>")
		os.Exit(1)
	}
	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	sentinelConns, err := bootstrap.SentinelConns(cfg, -1)
	if err != nil || len(sentinelConns) == 0 {
		fmt.Fprintf(os.Stderr, "wallet-cli: dial sentinels: %v\n", err)
		os.Exit(1)
	}
	defer bootstrap.CloseAll(sentinelConns)
	var sentinelConn *rpcclient.Conn
	for _, c := range sentinelConns {
		sentinelConn = c
		break
	}
	sentinelClient := rpcclient.SentinelExecuteClient{Conn: sentinelConn}

	var bootstrapSubmitter wallet.BootstrapSubmitter
	if cfg.TwoPC() {
		conn, err := bootstrap.CoordinatorConn(cfg, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wallet-cli: dial coordinator: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()
		bootstrapSubmitter = rpcclient.CoordinatorClient{Conn: conn}
	} else {
		conn, err := bootstrap.AtomizerConn(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wallet-cli: dial atomizer: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()
		bootstrapSubmitter = atomizerBootstrap{client: rpcclient.AtomizerClient{Conn: conn}}
	}

	var syncSource wallet.SyncSource
	if watchtowerAddr, err := cfg.WatchtowerEndpoint(); err == nil {
		conn, err := rpcclient.Dial(watchtowerAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wallet-cli: dial watchtower: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()
		syncSource = rpcclient.WatchtowerClient{Conn: conn}
	}

	w := wallet.New(sentinelClient, bootstrapSubmitter, syncSource)

	root := buildRootCommand(w)
	fmt.Println("wallet-cli ready; type a command or \"help\"")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		root.SetArgs(strings.Fields(line))
		if err := root.Execute(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func buildRootCommand(w *wallet.Wallet) *cobra.Command {
	root := &cobra.Command{Use: "wallet-cli", SilenceUsage: true}

	root.AddCommand(&cobra.Command{
		Use:   "new_address",
		Short: "generate a fresh spendable address",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := w.NewAddress()
			if err != nil {
				return err
			}
			fmt.Println(addr.String())
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "balance",
		Short: "print the sum of spendable coin values",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(w.Balance())
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "send <value> <payee pubkey hex>",
		Short: "build and submit a single-payee transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("value: %w", err)
			}
			payee, err := txmodel.PubKeyFromHex(args[1])
			if err != nil {
				return fmt.Errorf("payee: %w", err)
			}
			tx, res, err := w.Send(cmd.Context(), value, payee)
			return reportSubmission(tx, res, err)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "fan <count> <value> <payee pubkey hex>",
		Short: "build and submit a transaction paying the same payee count times",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("count: %w", err)
			}
			value, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("value: %w", err)
			}
			payee, err := txmodel.PubKeyFromHex(args[2])
			if err != nil {
				return fmt.Errorf("payee: %w", err)
			}
			tx, res, err := w.Fan(cmd.Context(), count, value, payee)
			return reportSubmission(tx, res, err)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "mint <count> <value>",
		Short: "bootstrap-mint count fresh outputs of value each to this wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("count: %w", err)
			}
			value, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("value: %w", err)
			}
			tx, committed, err := w.Mint(cmd.Context(), count, value)
			if err != nil {
				return err
			}
			fmt.Printf("tx %s committed=%v\n", tx.TxID(), committed)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "import_send_input <txid hex> <output index> <commitment hex> <value> <private key seed hex>",
		Short: "register an externally received output as a pending import",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, err := txmodel.HashFromHex(args[0])
			if err != nil {
				return fmt.Errorf("txid: %w", err)
			}
			index, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("output index: %w", err)
			}
			commitment, err := txmodel.HashFromHex(args[2])
			if err != nil {
				return fmt.Errorf("commitment: %w", err)
			}
			value, err := strconv.ParseUint(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("value: %w", err)
			}
			seed, err := seedFromHex(args[4])
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			key := keyPairFromSeed(seed)
			input := txmodel.Input{
				OutPoint: txmodel.OutPoint{TxID: txID, OutputIndex: index},
				Output:   txmodel.Output{WitnessProgramCommitment: commitment, Value: value},
			}
			w.ImportSendInput(input, key)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "confirm_transaction <txid hex>",
		Short: "finalize bookkeeping for a transaction known settled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, err := txmodel.HashFromHex(args[0])
			if err != nil {
				return fmt.Errorf("txid: %w", err)
			}
			w.ConfirmTransaction(txID)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "abandon_transaction <txid hex>",
		Short: "release a pending transaction's reserved inputs back to spendable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, err := txmodel.HashFromHex(args[0])
			if err != nil {
				return fmt.Errorf("txid: %w", err)
			}
			w.AbandonTransaction(txID)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "reconcile pending transactions and imports against settlement state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return w.Sync(cmd.Context())
		},
	})

	return root
}

func reportSubmission(tx *txmodel.FullTx, res *sentinel.ExecuteResult, err error) error {
	if err != nil {
		return err
	}
	fmt.Printf("tx %s status=%s\n", tx.TxID(), res.Status)
	if res.Err != nil {
		fmt.Println(res.Err)
	}
	return nil
}

func seedFromHex(s string) ([32]byte, error) {
	var seed [32]byte
	h, err := txmodel.HashFromHex(s)
	if err != nil {
		return seed, err
	}
	copy(seed[:], h[:])
	return seed, nil
}

func keyPairFromSeed(seed [32]byte) *xsign.KeyPair {
	return xsign.KeyPairFromSeed(seed)
}
