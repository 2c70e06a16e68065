/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/blacktop/go-hvdetect"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var detectCmd = &cobra.Command{
	Use:     "detect",
	Aliases: []string{"run"},
	Short:   "Run one detection pass and report the verdict",
	Args:    cobra.NoArgs,
	RunE:    runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
	addDetectFlags(detectCmd)
}

func addDetectFlags(cmd *cobra.Command) {
	def := hvdetect.DefaultConfig()
	flags := cmd.Flags()
	flags.Int("max-attempts", def.MaxAttempts, "Buffer negotiation attempts per host query")
	flags.Uint64("window", def.ProximityWindow, "Proximity window below a candidate start address (bytes)")
	flags.Int("confirm", def.ConfirmationCount, "Nearby System threads required to confirm a candidate")
	flags.Uint64("system-pid", def.SystemProcessID, "Process ID of the System process")
	flags.Bool("modules", false, "Resolve candidate start addresses to kernel modules")
	flags.Bool("json", false, "Print the result as JSON")
}

func configFromFlags(flags *pflag.FlagSet) (hvdetect.Config, error) {
	cfg := hvdetect.DefaultConfig()
	var err error
	if cfg.MaxAttempts, err = flags.GetInt("max-attempts"); err != nil {
		return cfg, err
	}
	if cfg.ProximityWindow, err = flags.GetUint64("window"); err != nil {
		return cfg, err
	}
	if cfg.ConfirmationCount, err = flags.GetInt("confirm"); err != nil {
		return cfg, err
	}
	if cfg.SystemProcessID, err = flags.GetUint64("system-pid"); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

var (
	infoPrefix  = color.New(color.FgCyan).Sprint("[*]")
	warnPrefix  = color.New(color.FgYellow).Sprint("[?]")
	foundPrefix = color.New(color.FgGreen, color.Bold).Sprint("[!]")
	errorPrefix = color.New(color.FgRed).Sprint("[X]")
	debugPrefix = color.New(color.FgMagenta).Sprint("[^]")
)

func printLog(level hvdetect.Level, format string, args ...any) {
	var prefix string
	switch level {
	case hvdetect.LevelWarn:
		prefix = warnPrefix
	case hvdetect.LevelFound:
		prefix = foundPrefix
	case hvdetect.LevelError:
		prefix = errorPrefix
	case hvdetect.LevelDebug:
		prefix = debugPrefix
	default:
		prefix = infoPrefix
	}
	fmt.Printf("%s %s\n", prefix, fmt.Sprintf(format, args...))
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := configFromFlags(cmd.Flags())
	if err != nil {
		return err
	}
	modules, _ := cmd.Flags().GetBool("modules")
	asJSON, _ := cmd.Flags().GetBool("json")

	// Check host query support
	ok, err := hvdetect.Supported()
	if err != nil || !ok {
		return fmt.Errorf("thread detection not supported: %v", err)
	}

	opts := []hvdetect.Option{hvdetect.WithConfig(cfg)}
	if modules {
		opts = append(opts, hvdetect.WithModuleQuery(hvdetect.ModuleQuery))
	}
	if !asJSON {
		fmt.Println("HyperV VMBUS Driver Thread VM Detection")
		fmt.Println()
		opts = append(opts, hvdetect.WithLogger(printLog))
	}

	res, err := hvdetect.NewDetector(opts...).Run()
	if asJSON {
		out := struct {
			*hvdetect.Result
			Error string `json:"error,omitempty"`
		}{Result: res}
		if err != nil {
			out.Error = err.Error()
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	// a failed pass was already reported by the stage that hit it
	return nil
}
