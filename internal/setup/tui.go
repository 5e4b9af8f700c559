package setup

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/vadiminshakov/vault/config"
	"github.com/vadiminshakov/vault/internal/notify"
)

// GeneratedFile is where the wizard writes the configuration.
const GeneratedFile = "config.gen.yaml"

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

// answers holds the raw wizard input.
type answers struct {
	admin          string
	matchingEngine string
	assetA         string
	assetB         string
	backend        string
	dir            string
	snapshotEvery  string
	listenAddr     string
	maxSkew        string
	brokers        string
	tlsDomains     string
	topic          string
	logLevel       string
}

func defaultAnswers() answers {
	return answers{
		backend:       config.BackendWAL,
		dir:           config.DefaultStorageDir,
		snapshotEvery: strconv.Itoa(config.DefaultSnapshotEvery),
		listenAddr:    config.DefaultListenAddr,
		maxSkew:       "30s",
		topic:         notify.DefaultTopic,
		logLevel:      "info",
	}
}

// RunTUI launches the terminal configuration wizard and returns the path of
// the written config.
func RunTUI() (string, error) {
	a := defaultAnswers()
	var confirm bool

	// step 1: roles
	screen("STEP 1: ROLES")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Admin receives fees and appoints the matching engine.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Admin address").
				Description("Ethereum address, e.g. 0x5290...9ee7").
				Value(&a.admin).
				Validate(validateIdentity),
			huh.NewInput().
				Title("Matching engine address").
				Description("Optional, the admin can set it later").
				Value(&a.matchingEngine),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// step 2: assets
	screen("STEP 2: ASSETS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Asset A").
				Value(&a.assetA).
				Validate(validateAsset),
			huh.NewInput().
				Title("Asset B").
				Value(&a.assetB).
				Validate(func(s string) error {
					if err := validateAsset(s); err != nil {
						return err
					}
					if strings.TrimSpace(s) == strings.TrimSpace(a.assetA) {
						return fmt.Errorf("must differ from asset A")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// step 3: storage
	screen("STEP 3: STORAGE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Ledger backend").
				Options(
					huh.NewOption("Write-ahead log", config.BackendWAL),
					huh.NewOption("BadgerDB", config.BackendBadger),
				).
				Value(&a.backend),
			huh.NewInput().
				Title("Data directory").
				Value(&a.dir).
				Validate(notEmpty("directory")),
			huh.NewInput().
				Title("Snapshot every N batches").
				Description("WAL backend only").
				Value(&a.snapshotEvery).
				Validate(validatePositiveInt),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// step 4: api
	screen("STEP 4: API")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Value(&a.listenAddr).
				Validate(notEmpty("listen address")),
			huh.NewInput().
				Title("Max signature clock skew").
				Description("Duration, e.g. 30s").
				Value(&a.maxSkew).
				Validate(validateDuration),
			huh.NewInput().
				Title("TLS domains").
				Description("Comma separated, enables ACME certificates; leave empty for plain HTTP").
				Value(&a.tlsDomains),
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("Debug", "debug"),
					huh.NewOption("Info", "info"),
					huh.NewOption("Warn", "warn"),
					huh.NewOption("Error", "error"),
				).
				Value(&a.logLevel),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// step 5: notifications
	screen("STEP 5: NOTIFICATIONS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Kafka brokers").
				Description("Comma separated, leave empty to disable").
				Value(&a.brokers),
			huh.NewInput().
				Title("Kafka topic").
				Value(&a.topic),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// show summary
	screen("SUMMARY")
	summary := fmt.Sprintf(
		"Admin: %s\nAssets: %s / %s\nStorage: %s at %s\nListen: %s\nKafka: %s\n",
		a.admin, a.assetA, a.assetB, a.backend, a.dir, a.listenAddr, orNone(a.brokers),
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	if err := a.toConfig().Save(GeneratedFile); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting vault...", GeneratedFile)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return GeneratedFile, nil
}

func screen(step string) {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("VAULT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

func (a answers) toConfig() config.ConfigTmp {
	snapshotEvery, _ := strconv.Atoi(a.snapshotEvery)
	cfg := config.ConfigTmp{
		Admin:          strings.TrimSpace(a.admin),
		AssetA:         strings.TrimSpace(a.assetA),
		AssetB:         strings.TrimSpace(a.assetB),
		MatchingEngine: strings.TrimSpace(a.matchingEngine),
		ListenAddr:     a.listenAddr,
		Storage: config.StorageTmp{
			Backend:       a.backend,
			Dir:           a.dir,
			SnapshotEvery: snapshotEvery,
		},
		Auth:     config.AuthTmp{MaxSkewStr: a.maxSkew},
		LogLevel: a.logLevel,
	}
	if domains := splitList(a.tlsDomains); len(domains) > 0 {
		cfg.TLS = config.TLSTmp{Domains: domains}
	}
	if brokers := splitList(a.brokers); len(brokers) > 0 {
		cfg.Kafka = config.KafkaTmp{Brokers: brokers, Topic: a.topic}
	}
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "disabled"
	}
	return s
}

func notEmpty(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", what)
		}
		return nil
	}
}

func validateIdentity(s string) error {
	return notEmpty("address")(s)
}

func validateAsset(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("asset cannot be empty")
	}
	if strings.ContainsAny(s, " /") {
		return fmt.Errorf("asset must not contain spaces or slashes")
	}
	return nil
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be a whole number")
	}
	if n < 1 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("must be a duration like 30s")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}
