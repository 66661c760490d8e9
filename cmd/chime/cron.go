package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chime/internal/task/schedule"
)

var (
	cronCount    int
	cronTimezone string
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Inspect cron expressions the way alarms use them",
}

var cronNextCmd = &cobra.Command{
	Use:   "next <expr>",
	Short: "Print the next fire times of a cron expression",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cronCount <= 0 {
			return fmt.Errorf("--count must be positive, got %d", cronCount)
		}
		calc, err := cronCalculator()
		if err != nil {
			return err
		}
		times, err := calc.NextN(args[0], time.Now(), cronCount)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, calc.Describe(args[0]))
		for _, t := range times {
			fmt.Fprintln(out, t.In(calc.Location()).Format("Mon 2006-01-02 15:04 MST"))
		}
		return nil
	},
}

var cronDescribeCmd = &cobra.Command{
	Use:   "describe <expr>",
	Short: "Describe a cron expression in words",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		calc, err := cronCalculator()
		if err != nil {
			return err
		}
		if err := calc.Validate(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), calc.Describe(args[0]))
		return nil
	},
}

func init() {
	cronCmd.PersistentFlags().StringVar(&cronTimezone, "tz", "", "IANA time zone (default: local)")
	cronNextCmd.Flags().IntVarP(&cronCount, "count", "n", 5, "number of fire times to print")
	cronCmd.AddCommand(cronNextCmd)
	cronCmd.AddCommand(cronDescribeCmd)
}

func cronCalculator() (*schedule.Calculator, error) {
	loc, err := schedule.LoadLocation(cronTimezone)
	if err != nil {
		return nil, err
	}
	return schedule.New(loc), nil
}
