package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/playmatatu/escrow/internal/events"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// TokenCmd exchanges an account key for a bearer token.
func TokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Exchange an account key for a bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			account, _ := cmd.Flags().GetString("account")
			key, _ := cmd.Flags().GetString("key")
			c, ctx, cancel := setup(cmd)
			defer cancel()

			var res struct {
				Token     string    `json:"token"`
				ExpiresAt time.Time `json:"expires_at"`
				Roles     []string  `json:"roles"`
			}
			if err := c.call(ctx, http.MethodPost, "/auth/token", map[string]string{"account": account, "key": key}, &res); err != nil {
				return err
			}
			pterm.Info.Printfln("roles %v, expires %s", res.Roles, res.ExpiresAt.Local().Format(time.RFC822))
			fmt.Println(res.Token)
			return nil
		},
	}
	cmd.Flags().StringP("account", "a", "", "account id")
	cmd.Flags().StringP("key", "k", "", "account key")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("key")
	return cmd
}

// ParamsCmd shows the ledger parameters.
func ParamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Show safeguard deposit, game index and custody account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel := setup(cmd)
			defer cancel()

			var res struct {
				SafeguardDeposit   uint64 `json:"safeguard_deposit"`
				GameIndex          uint32 `json:"game_index"`
				CustodyAccount     string `json:"custody_account"`
				ExistentialDeposit uint64 `json:"existential_deposit"`
			}
			if err := c.call(ctx, http.MethodGet, "/params", nil, &res); err != nil {
				return err
			}
			d := decimals(cmd)
			return renderTable([]string{"Parameter", "Value"}, [][]string{
				{"safeguard deposit", formatAmount(res.SafeguardDeposit, d)},
				{"next game id", strconv.FormatUint(uint64(res.GameIndex), 10)},
				{"custody account", res.CustodyAccount},
				{"existential deposit", formatAmount(res.ExistentialDeposit, d)},
			})
		},
	}
}

// BalanceCmd shows the free balance of an account.
func BalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Show the free balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel := setup(cmd)
			defer cancel()

			var res struct {
				Balance uint64 `json:"balance"`
			}
			if err := c.call(ctx, http.MethodGet, "/accounts/"+url.PathEscape(args[0])+"/balance", nil, &res); err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", args[0], formatAmount(res.Balance, decimals(cmd)))
			return nil
		},
	}
}

// GameCmd groups the player-facing game commands.
func GameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Create, join, end and inspect games",
	}
	cmd.AddCommand(
		gameCreateCmd(),
		gameJoinCmd(),
		gameEndCmd(),
		gameShowCmd(),
	)
	return cmd
}

func gameCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <bet>",
		Short: "Open a game and escrow the bet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bet, err := parseAmount(args[0], decimals(cmd))
			if err != nil {
				return err
			}
			c, ctx, cancel := setup(cmd)
			defer cancel()

			var res struct {
				GameID uint32 `json:"game_id"`
			}
			if err := c.call(ctx, http.MethodPost, "/games", map[string]uint64{"bet": bet}, &res); err != nil {
				return err
			}
			pterm.Success.Printfln("game %d created", res.GameID)
			return nil
		},
	}
}

func gameJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <game-id>",
		Short: "Take the second seat of a game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := escrow.ParseGameID(args[0])
			if err != nil {
				return err
			}
			c, ctx, cancel := setup(cmd)
			defer cancel()

			if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/games/%d/join", id), nil, nil); err != nil {
				return err
			}
			pterm.Success.Printfln("joined game %d", id)
			return nil
		},
	}
}

func gameEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <game-id> <winner>",
		Short: "Propose the winner of a game",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := escrow.ParseGameID(args[0])
			if err != nil {
				return err
			}
			c, ctx, cancel := setup(cmd)
			defer cancel()

			var res struct {
				Outcome string `json:"outcome"`
				Winner  string `json:"winner"`
			}
			if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/games/%d/end", id), map[string]string{"winner": args[1]}, &res); err != nil {
				return err
			}
			switch res.Outcome {
			case "agreed":
				pterm.Success.Printfln("game %d ended, %s wins", id, res.Winner)
			case "disputed":
				pterm.Warning.Printfln("game %d disputed, waiting for mediation", id)
			default:
				pterm.Info.Printfln("proposal recorded, waiting for the other player")
			}
			return nil
		},
	}
}

func gameShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <game-id>",
		Short: "Show a game record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := escrow.ParseGameID(args[0])
			if err != nil {
				return err
			}
			c, ctx, cancel := setup(cmd)
			defer cancel()

			var res struct {
				Game    escrow.Game `json:"game"`
				Outcome string      `json:"outcome"`
			}
			if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/games/%d", id), nil, &res); err != nil {
				return err
			}
			return renderTable([]string{"Field", "Value"}, gameRows(&res.Game, res.Outcome, decimals(cmd)))
		},
	}
}

func gameRows(g *escrow.Game, outcome string, d int32) [][]string {
	host, _ := g.Seats.Host()
	joiner, _ := g.Seats.Joiner()
	rows := [][]string{
		{"id", g.ID.String()},
		{"bet", formatAmount(uint64(g.Bet), d)},
		{"host", string(host)},
		{"joiner", string(joiner)},
		{"ended", strconv.FormatBool(g.Ended)},
		{"handshake", outcome},
	}
	for player, winner := range g.Proposals {
		rows = append(rows, []string{"proposal of " + string(player), string(winner)})
	}
	for player, dep := range g.Deposits {
		rows = append(rows, []string{"deposit of " + string(player), formatAmount(uint64(dep), d)})
	}
	if g.Slashed > 0 {
		rows = append(rows, []string{"slashed", formatAmount(uint64(g.Slashed), d)})
	}
	return rows
}

// AdminCmd groups the privileged commands. They need a root or council token.
func AdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Privileged ledger operations",
	}
	cmd.AddCommand(
		adminForceEndCmd(),
		adminSetDepositCmd(),
		adminWithdrawCmd(),
		adminCredentialCmd(),
		adminAuditCmd(),
	)
	return cmd
}

func adminForceEndCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "force-end <game-id> <winner>",
		Short: "Settle a game by administrative decision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := escrow.ParseGameID(args[0])
			if err != nil {
				return err
			}
			beneficiary, _ := cmd.Flags().GetString("deposit-beneficiary")
			if beneficiary == "" {
				beneficiary = args[1]
			}
			c, ctx, cancel := setup(cmd)
			defer cancel()

			body := map[string]string{"winner": args[1], "deposit_beneficiary": beneficiary}
			if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/admin/games/%d/force-end", id), body, nil); err != nil {
				return err
			}
			pterm.Success.Printfln("game %d force-ended, %s wins, deposit to %s", id, args[1], beneficiary)
			return nil
		},
	}
	cmd.Flags().StringP("deposit-beneficiary", "b", "", "account receiving a safeguard deposit (defaults to the winner)")
	return cmd
}

func adminSetDepositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-deposit <amount>",
		Short: "Set the safeguard deposit for new seats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0], decimals(cmd))
			if err != nil {
				return err
			}
			c, ctx, cancel := setup(cmd)
			defer cancel()

			if err := c.call(ctx, http.MethodPut, "/admin/safeguard-deposit", map[string]uint64{"deposit": amount}, nil); err != nil {
				return err
			}
			pterm.Success.Printfln("safeguard deposit set to %s", formatAmount(amount, decimals(cmd)))
			return nil
		},
	}
}

func adminWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <amount> <beneficiary>",
		Short: "Move funds out of the custody account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0], decimals(cmd))
			if err != nil {
				return err
			}
			c, ctx, cancel := setup(cmd)
			defer cancel()

			body := map[string]interface{}{"amount": amount, "beneficiary": args[1]}
			if err := c.call(ctx, http.MethodPost, "/admin/withdraw", body, nil); err != nil {
				return err
			}
			pterm.Success.Printfln("withdrew %s to %s", formatAmount(amount, decimals(cmd)), args[1])
			return nil
		},
	}
}

func adminCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential <account> <key>",
		Short: "Create or rotate an account key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roles, _ := cmd.Flags().GetString("roles")
			c, ctx, cancel := setup(cmd)
			defer cancel()

			body := map[string]interface{}{"account": args[0], "key": args[1], "roles": strings.Split(roles, ",")}
			if err := c.call(ctx, http.MethodPost, "/admin/credentials", body, nil); err != nil {
				return err
			}
			pterm.Success.Printfln("credential for %s stored", args[0])
			return nil
		},
	}
	cmd.Flags().String("roles", "player", "comma separated roles")
	return cmd
}

func adminAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List privileged calls, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			account, _ := cmd.Flags().GetString("account")
			limit, _ := cmd.Flags().GetInt("limit")
			c, ctx, cancel := setup(cmd)
			defer cancel()

			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if account != "" {
				q.Set("account", account)
			}
			var res struct {
				Logs []struct {
					Account   string    `json:"account"`
					Route     string    `json:"route"`
					Action    string    `json:"action"`
					Success   bool      `json:"success"`
					CreatedAt time.Time `json:"created_at"`
				} `json:"logs"`
			}
			if err := c.call(ctx, http.MethodGet, "/admin/audit?"+q.Encode(), nil, &res); err != nil {
				return err
			}
			rows := make([][]string, 0, len(res.Logs))
			for _, l := range res.Logs {
				rows = append(rows, []string{l.CreatedAt.Local().Format(time.RFC3339), l.Account, l.Action, l.Route, strconv.FormatBool(l.Success)})
			}
			return renderTable([]string{"Time", "Account", "Action", "Route", "OK"}, rows)
		},
	}
	cmd.Flags().String("account", "", "only calls by this account")
	cmd.Flags().Int("limit", 25, "maximum entries")
	return cmd
}

// EventsCmd lists journaled ledger events.
func EventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List ledger events after a sequence number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			after, _ := cmd.Flags().GetUint64("after")
			limit, _ := cmd.Flags().GetInt("limit")
			c, ctx, cancel := setup(cmd)
			defer cancel()

			var res struct {
				Events []escrow.Record `json:"events"`
			}
			path := fmt.Sprintf("/events?after=%d&limit=%d", after, limit)
			if err := c.call(ctx, http.MethodGet, path, nil, &res); err != nil {
				return err
			}
			rows := make([][]string, 0, len(res.Events))
			for _, r := range res.Events {
				game := ""
				if id, ok := events.GameOf(r.Event); ok {
					game = id.String()
				}
				rows = append(rows, []string{strconv.FormatUint(r.Seq, 10), r.At.Local().Format(time.RFC3339), string(r.Kind), game, r.Origin})
			}
			return renderTable([]string{"Seq", "Time", "Kind", "Game", "Origin"}, rows)
		},
	}
	cmd.Flags().Uint64("after", 0, "only events with a greater sequence number")
	cmd.Flags().Int("limit", 100, "maximum events")
	return cmd
}
