package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/goliatone/go-customer-cache/customer"
	"github.com/goliatone/go-customer-cache/pkg/di"
	"github.com/goliatone/go-customer-cache/service"
	"github.com/spf13/cobra"
)

func createCmd() *cobra.Command {
	var f customer.Fields

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				created, err := c.Customers().Create(ctx, f)
				if err != nil {
					return err
				}
				return printCustomer(cmd.OutOrStdout(), created)
			})
		},
	}

	cmd.Flags().StringVar(&f.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&f.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&f.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&f.Phone, "phone", "", "Phone number")
	cmd.Flags().StringVar(&f.Address, "address", "", "Postal address")
	cmd.Flags().Float64Var(&f.AvailableCredit, "credit", 0, "Initial available credit")
	cmd.MarkFlagRequired("first-name")
	cmd.MarkFlagRequired("last-name")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("phone")
	cmd.MarkFlagRequired("address")

	return cmd
}

func getCmd() *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get customer details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				var (
					found *customer.Customer
					err   error
				)
				if fresh {
					found, err = c.StoreRepository().FindByID(ctx, args[0])
					if err == nil && found == nil {
						err = &customer.NotFoundError{ID: args[0]}
					}
				} else {
					found, err = c.Customers().Get(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printCustomer(cmd.OutOrStdout(), found)
			})
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Read from the store, skipping the cache")
	return cmd
}

func listCmd() *cobra.Command {
	var sortField, order string

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List customers",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			field, err := customer.ParseSortField(sortField)
			if err != nil {
				return err
			}
			o, err := customer.ParseOrder(order)
			if err != nil {
				return err
			}

			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				list, err := c.Customers().List(ctx, field, o)
				if err != nil {
					return err
				}
				return printCustomers(cmd.OutOrStdout(), list)
			})
		},
	}

	cmd.Flags().StringVarP(&sortField, "sort", "s", string(customer.SortByAvailableCredit), "Sort field")
	cmd.Flags().StringVar(&order, "order", string(customer.Desc), "Sort order (asc, desc)")
	return cmd
}

func updateCmd() *cobra.Command {
	var firstName, lastName, email, phone, address string

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update customer attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p service.Patch
			if cmd.Flags().Changed("first-name") {
				p.FirstName = &firstName
			}
			if cmd.Flags().Changed("last-name") {
				p.LastName = &lastName
			}
			if cmd.Flags().Changed("email") {
				p.Email = &email
			}
			if cmd.Flags().Changed("phone") {
				p.Phone = &phone
			}
			if cmd.Flags().Changed("address") {
				p.Address = &address
			}

			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				updated, err := c.Customers().Update(ctx, args[0], p)
				if err != nil {
					return err
				}
				return printCustomer(cmd.OutOrStdout(), updated)
			})
		},
	}

	cmd.Flags().StringVar(&firstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number")
	cmd.Flags().StringVar(&address, "address", "", "Postal address")
	return cmd
}

func creditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credit",
		Short: "Change a customer's available credit",
	}

	type creditOp func(s *service.Customers, ctx context.Context, id string, amount float64) (*customer.Customer, error)
	sub := func(use, short string, op creditOp) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id> <amount>",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				amount, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("invalid amount %q: %w", args[1], err)
				}
				return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
					updated, err := op(c.Customers(), ctx, args[0], amount)
					if err != nil {
						return err
					}
					return printCustomer(cmd.OutOrStdout(), updated)
				})
			},
		}
	}

	cmd.AddCommand(
		sub("add", "Add credit", (*service.Customers).AddCredit),
		sub("use", "Use credit", (*service.Customers).UseCredit),
	)
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				deleted, err := c.Customers().Delete(ctx, args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return &customer.NotFoundError{ID: args[0]}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Customer '%s' deleted\n", args[0])
				return nil
			})
		},
	}
}

func printCustomer(w io.Writer, c *customer.Customer) error {
	if outputFormat == "json" {
		return printJSON(w, c.Snapshot())
	}

	s := c.Snapshot()
	fmt.Fprintf(w, "ID:         %s\n", s.ID)
	fmt.Fprintf(w, "Name:       %s %s\n", s.FirstName, s.LastName)
	fmt.Fprintf(w, "Email:      %s\n", s.Email)
	fmt.Fprintf(w, "Phone:      %s\n", s.Phone)
	fmt.Fprintf(w, "Address:    %s\n", s.Address)
	fmt.Fprintf(w, "Credit:     %.2f\n", s.AvailableCredit)
	fmt.Fprintf(w, "Created:    %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Updated:    %s\n", s.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func printCustomers(w io.Writer, list []*customer.Customer) error {
	if outputFormat == "json" {
		snaps := make([]customer.Snapshot, 0, len(list))
		for _, c := range list {
			snaps = append(snaps, c.Snapshot())
		}
		return printJSON(w, snaps)
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "No customers found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tCREDIT\tUPDATED")
	for _, c := range list {
		fmt.Fprintf(tw, "%s\t%s %s\t%s\t%.2f\t%s\n",
			c.ID(),
			c.FirstName(), c.LastName(),
			c.Email(),
			c.AvailableCredit(),
			c.UpdatedAt().Format("2006-01-02 15:04:05"),
		)
	}
	return tw.Flush()
}
