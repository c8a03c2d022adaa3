package main

import (
	"bufio"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	keycard "github.com/status-im/keycard-proto"
	"github.com/status-im/keycard-proto/hexutils"
	"github.com/status-im/keycard-proto/io"
	"github.com/status-im/keycard-proto/types"
	"golang.org/x/term"
)

type commandFunc func(*keycard.Installer) error

var (
	logger = log.New("package", "keycard-proto/cmd/keycard-shell")

	commands map[string]commandFunc
	config   *Config

	flagCommand   = flag.String("c", "", "command")
	flagConfig    = flag.String("config", "", "YAML config file path")
	flagCapFile   = flag.String("f", "", "cap file path")
	flagOverwrite = flag.Bool("o", false, "overwrite applet if already installed")
	flagReader    = flag.Int("r", -1, "reader index, overrides the config file")
	flagLogLevel  = flag.String("l", "", `Log level, one of: "ERROR", "WARN", "INFO", "DEBUG", and "TRACE"`)
)

func initConfig() {
	cfg := defaultConfig()
	if *flagConfig != "" {
		var err error
		if cfg, err = LoadConfig(*flagConfig); err != nil {
			stdlog.Fatal(err)
		}
	}

	if *flagReader >= 0 {
		cfg.ReaderIndex = *flagReader
	}

	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}

	if err := cfg.Validate(); err != nil {
		stdlog.Fatal(err)
	}

	config = cfg
}

func initLogger() {
	level, err := config.Level()
	if err != nil {
		stdlog.Fatal(err)
	}

	handler := log.StreamHandler(os.Stderr, log.TerminalFormat(true))
	filteredHandler := log.LvlFilterHandler(level, handler)
	log.Root().SetHandler(filteredHandler)
}

func init() {
	flag.Parse()
	initConfig()
	initLogger()

	commands = map[string]commandFunc{
		"install":  commandInstall,
		"info":     commandInfo,
		"delete":   commandDelete,
		"registry": commandRegistry,
		"init":     commandInit,
		"pair":     commandPair,
		"status":   commandStatus,
		"export":   commandExport,
		"sign":     commandSign,
	}
}

func usage() {
	fmt.Printf("\nUsage: keycard-shell -c COMMAND [FLAGS]\n\nValid commands:\n\n")
	names := make([]string, 0, len(commands)+1)
	for name := range commands {
		names = append(names, name)
	}
	names = append(names, "readers")
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("- %s\n", name)
	}
	fmt.Print("\nFlags:\n\n")
	flag.PrintDefaults()
	os.Exit(1)
}

func fail(msg string, ctx ...interface{}) {
	logger.Error(msg, ctx...)
	os.Exit(1)
}

func main() {
	if *flagCommand == "" {
		logger.Error("you must specify a command")
		usage()
	}

	if *flagCommand == "readers" {
		commandReaders()
		return
	}

	f, ok := commands[*flagCommand]
	if !ok {
		logger.Error("unknown command", "command", *flagCommand)
		usage()
	}

	t, err := io.NewPCSCTransport(config.ReaderIndex)
	if err != nil {
		fail("error connecting to card", "error", err)
	}

	logger.Debug("using reader", "name", t.Reader())

	i := keycard.NewInstaller(t, config.SCP02Keys())
	err = f(i)

	if cerr := t.Close(); cerr != nil {
		logger.Error("error closing transport", "error", cerr)
	}

	if err != nil {
		fail("error executing command", "command", *flagCommand, "error", err)
	}
}

func ask(description string) string {
	r := bufio.NewReader(os.Stdin)
	fmt.Printf("%s: ", description)
	text, err := r.ReadString('\n')
	if err != nil {
		stdlog.Fatal(err)
	}

	return strings.TrimSpace(text)
}

// askSecret reads a line without echo when stdin is a terminal.
func askSecret(description string) string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return ask(description)
	}

	fmt.Printf("%s: ", description)
	secret, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		stdlog.Fatal(err)
	}

	return strings.TrimSpace(string(secret))
}

func askHex(description string) []byte {
	data, err := hexutils.DecodeHex(ask(description))
	if err != nil {
		stdlog.Fatal(err)
	}

	return data
}

func askInt(description string) int {
	i, err := strconv.Atoi(ask(description))
	if err != nil {
		stdlog.Fatal(err)
	}

	return i
}

func pairingInfo() *types.PairingInfo {
	info, err := config.PairingInfo()
	if err == nil {
		return info
	}

	return &types.PairingInfo{
		Index: askInt("Pairing index"),
		Key:   askHex("Pairing key"),
	}
}

func commandReaders() {
	readers, err := io.ListReaders()
	if err != nil {
		fail("error listing readers", "error", err)
	}

	for i, name := range readers {
		fmt.Printf("%d: %s\n", i, name)
	}
}

func commandInstall(i *keycard.Installer) error {
	if *flagCapFile == "" {
		logger.Error("you must specify a cap file path with the -f flag")
		usage()
	}

	f, err := os.Open(*flagCapFile)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	fmt.Printf("installation can take a while...\n")
	err = i.Install(f, stat.Size(), *flagOverwrite, func(block, total int) {
		logger.Debug("loading cap file", "block", block, "total", total)
	})
	if err != nil {
		return err
	}

	fmt.Printf("applet installed successfully.\n")

	return nil
}

func commandInfo(i *keycard.Installer) error {
	info, err := i.Info()
	if err != nil {
		return err
	}

	fmt.Printf("Installed: %+v\n", info.Installed)
	fmt.Printf("Initialized: %+v\n", info.Initialized)
	fmt.Printf("InstanceUID: 0x%x\n", info.InstanceUID)
	fmt.Printf("PublicKey: 0x%x\n", info.PublicKey)
	fmt.Printf("Version: 0x%x\n", info.Version)
	fmt.Printf("AvailableSlots: 0x%x\n", info.AvailableSlots)
	fmt.Printf("KeyUID: 0x%x\n", info.KeyUID)
	fmt.Printf("Capabilities: 0x%02x\n", info.Capabilities)

	return nil
}

func commandDelete(i *keycard.Installer) error {
	if err := i.Delete(); err != nil {
		return err
	}

	fmt.Printf("applet deleted\n")

	return nil
}

func commandRegistry(i *keycard.Installer) error {
	entries, err := i.Registry()
	if err != nil {
		return err
	}

	for _, e := range entries {
		fmt.Printf("AID 0x%x lifecycle 0x%02x\n", e.AID, e.LifeCycle)
	}

	return nil
}

func commandInit(i *keycard.Installer) error {
	secrets, err := i.Init()
	if err != nil {
		return err
	}

	fmt.Printf("PIN %s\n", secrets.Pin())
	fmt.Printf("PUK %s\n", secrets.Puk())
	fmt.Printf("Pairing password: %s\n", secrets.PairingPass())

	return nil
}

func commandPair(i *keycard.Installer) error {
	info, err := i.Pair(askSecret("Pairing password"))
	if err != nil {
		return err
	}

	fmt.Printf("Pairing key 0x%x\n", info.Key)
	fmt.Printf("Pairing Index %d\n", info.Index)

	return nil
}

func commandStatus(i *keycard.Installer) error {
	status, err := i.Status(pairingInfo())
	if err != nil {
		return err
	}

	fmt.Printf("PIN retries: %d\n", status.PinRetryCount)
	fmt.Printf("PUK retries: %d\n", status.PUKRetryCount)
	fmt.Printf("Key initialized: %+v\n", status.KeyInitialized)

	return nil
}

func commandExport(i *keycard.Installer) error {
	if err := i.Open(pairingInfo()); err != nil {
		return err
	}

	cs := i.CommandSet()
	if err := cs.VerifyPIN(askSecret("PIN")); err != nil {
		return err
	}

	key, err := cs.ExportKey(true, false, true, ask("Derivation path"))
	if err != nil {
		return err
	}

	address, err := key.Address()
	if err != nil {
		return err
	}

	fmt.Printf("Path: %s\n", key.Path)
	fmt.Printf("PublicKey: 0x%x\n", key.PublicKey)
	fmt.Printf("Address: %s\n", address)

	return nil
}

func commandSign(i *keycard.Installer) error {
	if err := i.Open(pairingInfo()); err != nil {
		return err
	}

	cs := i.CommandSet()
	if err := cs.VerifyPIN(askSecret("PIN")); err != nil {
		return err
	}

	digest := askHex("Digest")
	sig, err := cs.Sign(digest, ask("Derivation path"))
	if err != nil {
		return err
	}

	address, err := sig.Address()
	if err != nil {
		return err
	}

	fmt.Printf("Signature: 0x%x\n", sig.Bytes())
	fmt.Printf("Signer: %s\n", address)

	return nil
}
