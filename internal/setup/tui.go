package setup

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/stackerapp/stacker/internal/domain"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// RuleCreator is implemented by the scheduler.
type RuleCreator interface {
	CreateRule(spec domain.RuleSpec, now time.Time) (domain.Rule, error)
}

// RunTUI launches the terminal wizard for creating a new purchase rule.
func RunTUI(creator RuleCreator) error {
	var (
		asset       string
		amountStr   string
		currency    string
		providerStr string
		frequency   string
		dayStr      string
		hourStr     string
		destination string
		confirm     bool
	)

	// defaults
	amountStr = "50"
	currency = "USD"
	hourStr = "8"

	// step 1: welcome
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("STACKER RULE WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Set up a recurring purchase in a few steps.\n"))

	// asset and amount
	fmt.Println(stepStyle.Render("STEP 1: PURCHASE"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Asset").
				Description("Ticker of the asset to accumulate (e.g. BTC)").
				Value(&asset).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("asset cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Amount per purchase").
				Description("Fiat amount spent on every execution (e.g. 50)").
				Value(&amountStr).
				Validate(validateAmount),
			huh.NewInput().
				Title("Fiat Currency").
				Description("Currency of the amount (e.g. USD)").
				Value(&currency).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("currency cannot be empty")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// provider
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("STACKER RULE WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: PROVIDER"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Purchase Provider").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Simulation", "simulate"),
				).
				Value(&providerStr),
		),
	).Run()
	if err != nil {
		return err
	}

	// cadence
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("STACKER RULE WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: CADENCE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How often should the purchase run?").
				Options(
					huh.NewOption("Daily", "daily"),
					huh.NewOption("Weekly", "weekly"),
					huh.NewOption("Monthly", "monthly"),
				).
				Value(&frequency),
		),
	).Run()
	if err != nil {
		return err
	}

	var dayOfWeek, dayOfMonth *int
	if frequency == "weekly" {
		dayStr = "1"
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Day of Week").
					Description("0 = Sunday .. 6 = Saturday").
					Value(&dayStr).
					Validate(validateIntRange(0, 6)),
			),
		).Run()
		if err != nil {
			return err
		}
		d, _ := strconv.Atoi(dayStr)
		dayOfWeek = &d
	} else if frequency == "monthly" {
		dayStr = "1"
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Day of Month").
					Description("1-31, clamped to shorter months").
					Value(&dayStr).
					Validate(validateIntRange(1, 31)),
			),
		).Run()
		if err != nil {
			return err
		}
		d, _ := strconv.Atoi(dayStr)
		dayOfMonth = &d
	}

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Hour of Day").
				Description("0-23, local time").
				Value(&hourStr).
				Validate(validateIntRange(0, 23)),
		),
	).Run()
	if err != nil {
		return err
	}

	// destination
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("STACKER RULE WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: DESTINATION"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Destination Address").
				Description("Wallet or account the purchased asset goes to").
				Value(&destination).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("destination cannot be empty")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	amount, _ := decimal.NewFromString(amountStr)
	hour, _ := strconv.Atoi(hourStr)

	spec := domain.RuleSpec{
		Asset:              asset,
		FiatAmount:         amount,
		FiatCurrency:       currency,
		Provider:           providerStr,
		Frequency:          domain.Frequency(frequency),
		DayOfWeek:          dayOfWeek,
		DayOfMonth:         dayOfMonth,
		HourOfDay:          hour,
		DestinationAddress: destination,
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("STACKER RULE WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Asset: %s\nAmount: %s %s\nProvider: %s\nCadence: %s\nDestination: %s\n",
		asset, amount, currency, providerStr,
		domain.DescribeCadence(domain.Rule{
			Frequency:  spec.Frequency,
			DayOfWeek:  dayOfWeek,
			DayOfMonth: dayOfMonth,
			HourOfDay:  hour,
		}),
		destination,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Create this rule?").
				Affirmative("Yes, create it").
				Negative("No, discard").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("rule creation cancelled by user")
	}

	rule, err := creator.CreateRule(spec, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf(
		"\n✓ Rule %s created, first purchase at %s",
		rule.ID, rule.NextExecutionAt.Format(time.RFC1123),
	)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func validateAmount(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateIntRange(min, max int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("must be a whole number")
		}
		if n < min || n > max {
			return fmt.Errorf("must be between %d and %d", min, max)
		}
		return nil
	}
}
