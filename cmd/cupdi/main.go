package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/GreenLoofa/cupdi/internal/device"
	"github.com/GreenLoofa/cupdi/internal/link"
	"github.com/GreenLoofa/cupdi/internal/logging"
	"github.com/GreenLoofa/cupdi/internal/nvm"
	"github.com/GreenLoofa/cupdi/internal/programmer"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Every failure stage has its own exit code so scripts can tell what went
// wrong without parsing output.
const (
	exitLookup     = 2
	exitPortOpen   = 3
	exitLinkInit   = 4
	exitDeviceInfo = 5
	exitUnlock     = 6
	exitErase      = 7
	exitFuse       = 8
	exitProgram    = 9
	exitSave       = 10
	exitRead       = 11
	exitWrite      = 12
)

type stageError struct {
	stage string
	code  int
	err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error {
	return e.err
}

func fail(code int, stage string, err error) error {
	return &stageError{stage: stage, code: code, err: err}
}

var (
	deviceFlag  string
	portFlag    string
	baudFlag    int
	fileFlag    string
	unlockFlag  bool
	eraseFlag   bool
	programFlag bool
	checkFlag   bool
	saveFlag    bool
	fusesFlag   string
	readFlag    string
	writeFlag   string
	verboseFlag int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cupdi",
		Short: "Program AVR devices over the UPDI interface",
		Long: `cupdi is a command-line programmer for AVR microcontrollers with a
UPDI port, driven through a plain TTL serial adapter (RX and TX tied
together with a resistor on the UPDI pin).

Erase chip:     cupdi -d tiny817 -c /dev/ttyUSB0 -e
Flash hex file: cupdi -d tiny817 -c /dev/ttyUSB0 -f app.hex
Check flash:    cupdi -d tiny817 -c /dev/ttyUSB0 -f app.hex -k
Set a fuse:     cupdi -d tiny817 -c /dev/ttyUSB0 --fuses 1:0x08`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
	}

	f := rootCmd.Flags()
	f.StringVarP(&deviceFlag, "device", "d", "", "Target device name (e.g. tiny817)")
	f.StringVarP(&portFlag, "port", "c", "", "Serial port (COMx or /dev/ttyX)")
	f.IntVarP(&baudFlag, "baud", "b", 115200, "Baud rate")
	f.StringVarP(&fileFlag, "file", "f", "", "Intel HEX file to flash")
	f.BoolVarP(&unlockFlag, "unlock", "u", false, "Unlock the device (chip erase if locked)")
	f.BoolVarP(&eraseFlag, "erase", "e", false, "Perform a chip erase")
	f.BoolVarP(&programFlag, "program", "p", false, "Program the HEX file to flash (implied by --file)")
	f.BoolVarP(&checkFlag, "check", "k", false, "Compare the HEX file against flash without writing")
	f.BoolVarP(&saveFlag, "save", "s", false, "Save flash contents to <file>.save")
	f.StringVar(&fusesFlag, "fuses", "", "Fuse to set (syntax: <index>:<hexValue>)")
	f.StringVarP(&readFlag, "read", "r", "", "Direct memory read (syntax: <hexAddress>;<length>)")
	f.StringVarP(&writeFlag, "write", "w", "", "Direct memory write (syntax: <hexAddress>;<hexByte>;...)")
	f.IntVarP(&verboseFlag, "verbose", "v", int(logging.Updi), "Verbosity (0=silence .. 5=serial traffic)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports and supported devices",
		RunE:  runList,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cupdi %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(listCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var se *stageError
		if errors.As(err, &se) {
			os.Exit(se.code)
		}
		os.Exit(1)
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	logger := logging.New(os.Stdout, logging.Level(verboseFlag))

	if deviceFlag == "" || portFlag == "" {
		return fail(exitLookup, "configuration", errors.New("both --device and --port are required"))
	}

	// A file with no operation bits means "program it".
	if fileFlag != "" && !programFlag && !checkFlag && !saveFlag && !eraseFlag && !unlockFlag {
		programFlag = true
	}
	if (programFlag || checkFlag || saveFlag) && fileFlag == "" {
		return fail(exitLookup, "configuration", errors.New("--program, --check and --save require --file"))
	}

	// Validate command strings before touching the serial line.
	var fuse fuseSpec
	if fusesFlag != "" {
		var err error
		if fuse, err = parseFuseSpec(fusesFlag); err != nil {
			return fail(exitFuse, "fuse write", err)
		}
	}
	var rd readSpec
	if readFlag != "" {
		var err error
		if rd, err = parseReadSpec(readFlag); err != nil {
			return fail(exitRead, "read", err)
		}
	}
	var wr writeSpec
	if writeFlag != "" {
		var err error
		if wr, err = parseWriteSpec(writeFlag); err != nil {
			return fail(exitWrite, "write", err)
		}
	}

	dev, err := device.Lookup(deviceFlag)
	if err != nil {
		return fail(exitLookup, "device lookup", err)
	}

	client, err := nvm.Open(portFlag, baudFlag, dev, logger)
	if err != nil {
		if errors.Is(err, link.ErrPortOpen) {
			return fail(exitPortOpen, "port open", err)
		}
		return fail(exitLinkInit, "updi init", err)
	}

	session := programmer.NewSession(client, logger)
	defer session.Close()

	if err := session.Connect(); err != nil {
		return fail(exitDeviceInfo, "device info", err)
	}

	needNVM := unlockFlag || eraseFlag || programFlag || checkFlag || saveFlag ||
		fusesFlag != "" || readFlag != "" || writeFlag != ""
	if needNVM {
		if err := session.EnsureProgrammingMode(); err != nil {
			return fail(exitUnlock, "unlock", err)
		}
	}

	if eraseFlag {
		if err := client.ChipErase(); err != nil {
			return fail(exitErase, "erase", err)
		}
		fmt.Println("Chip erased")
	}

	memory := programmer.NewMemoryAccessor(session, logger)

	if fusesFlag != "" {
		if err := memory.WriteFuse(fuse.Index, fuse.Value); err != nil {
			return fail(exitFuse, "fuse write", err)
		}
		fmt.Printf("Fuse %d set to 0x%02X\n", fuse.Index, fuse.Value)
	}

	flash := programmer.NewFlashProgrammer(session, logger)

	if fileFlag != "" && (programFlag || checkFlag) {
		finish := wireProgress(client, "Flashing")
		err := flash.Program(fileFlag, programFlag)
		finish()
		if err != nil {
			return fail(exitProgram, "flash program", err)
		}
		if programFlag {
			fmt.Println("Flash programmed and verified")
		} else {
			fmt.Println("Flash matches image")
		}
	}

	if fileFlag != "" && saveFlag {
		finish := wireProgress(client, "Reading")
		err := flash.Save(fileFlag)
		finish()
		if err != nil {
			return fail(exitSave, "save", err)
		}
		fmt.Printf("Flash saved to %s%s\n", fileFlag, programmer.SaveSuffix)
	}

	if readFlag != "" {
		data, err := memory.ReadMemory(rd.Address, rd.Length)
		if err != nil {
			return fail(exitRead, "read", err)
		}
		dumpBytes(rd.Address, data)
	}

	if writeFlag != "" {
		if err := memory.WriteMemory(wr.Address, wr.Data); err != nil {
			return fail(exitWrite, "write", err)
		}
		fmt.Printf("Wrote %d byte(s) at 0x%04X\n", len(wr.Data), wr.Address)
	}

	return nil
}

// wireProgress attaches a progress bar to the client's paged flash
// transfers. At higher verbosity the per-page log lines replace the bar.
func wireProgress(client *nvm.Client, description string) func() {
	if verboseFlag > int(logging.Updi) {
		return func() {}
	}

	var bar *progressbar.ProgressBar
	client.SetProgressCallback(func(current, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(description),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionThrottle(100),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.Set(current)
	})

	return func() {
		if bar != nil {
			bar.Finish()
		}
		client.SetProgressCallback(nil)
	}
}

func dumpBytes(address uint32, data []byte) {
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Printf("%04X:", address+uint32(off))
		for _, b := range data[off:end] {
			fmt.Printf(" %02X", b)
		}
		fmt.Println()
	}
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := link.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
	} else {
		fmt.Println("Available serial ports:")
		for _, p := range ports {
			fmt.Printf("  %s\n", p)
		}
	}

	fmt.Println("Supported devices:")
	for _, name := range device.Names() {
		fmt.Printf("  %s\n", name)
	}
	return nil
}
