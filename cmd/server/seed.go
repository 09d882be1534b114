package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/repository"
)

func seedPricesCommand() *cobra.Command {
	var prices map[string]string
	cmd := &cobra.Command{
		Use:   "seed-prices",
		Short: "Insert ticket types that do not exist yet",
		Example: "  " + programName + " seed-prices --price General=0 --price VIP=650.00",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(prices) == 0 {
				return errors.New("at least one --price TYPE=AMOUNT is required")
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			b, err := openDurable(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			repo := repository.NewTicketPriceRepo(b.store)
			types := make([]string, 0, len(prices))
			for t := range prices {
				types = append(types, t)
			}
			sort.Strings(types)
			for _, t := range types {
				amount, err := decimal.NewFromString(prices[t])
				if err != nil {
					return fmt.Errorf("price of %s: %w", t, err)
				}
				p := model.TicketPrice{TicketType: t, Price: amount}
				err = repo.Insert(cmd.Context(), &p)
				switch {
				case errors.Is(err, repository.ErrDuplicate):
					logger.WithField("ticket_type", t).Info("ticket type exists, skipped")
				case errors.Is(err, repository.ErrReadBack):
					logger.WithError(err).WithFields(map[string]any{"ticket_type": t, "id": p.ID}).Warn("ticket type seeded, read-back failed")
				case err != nil:
					return err
				default:
					logger.WithFields(map[string]any{"ticket_type": t, "id": p.ID, "price": p.Price.StringFixed(2)}).Info("ticket type seeded")
				}
			}
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&prices, "price", nil, "ticket type and amount, repeatable")
	return cmd
}
