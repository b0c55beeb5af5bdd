package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pterm/pterm"

	"github.com/thread-tools/meshcop-go/pkg/discovery"
	"github.com/thread-tools/meshcop-go/pkg/service"
)

// resolveHub returns the target border router: the -host override or the
// first discovered instance.
func resolveHub(svc *service.Service, cfg Config) (*discovery.ThreadHub, error) {
	if cfg.Host != "" {
		hub := discovery.ThreadHub{Host: cfg.Host, Port: cfg.Port, InstanceName: "manual"}
		if !hub.Valid() {
			return nil, fmt.Errorf("invalid -host/-port combination")
		}
		return &hub, nil
	}

	spinner, _ := pterm.DefaultSpinner.Start("Browsing for _meshcop-e._udp")
	hub, err := svc.SearchForHub(cfg.TimeoutSeconds)
	if err != nil {
		spinner.Fail("No border router found")
		return nil, err
	}
	spinner.Success("Border router found")
	return hub, nil
}

// promptAdminCode reads the admin code without echoing it.
func promptAdminCode() (string, error) {
	rl, err := readline.New("")
	if err != nil {
		return "", fmt.Errorf("failed to open terminal: %w", err)
	}
	defer rl.Close()

	code, err := rl.ReadPassword("Admin code: ")
	if err != nil {
		return "", fmt.Errorf("failed to read admin code: %w", err)
	}
	return string(code), nil
}

// runInteractive runs the command loop.
func runInteractive(svc *service.Service) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "meshcop> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		pterm.Error.Printfln("failed to create readline: %v", err)
		return
	}
	defer rl.Close()

	printHelp()

	var lastHub *discovery.ThreadHub

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "discover":
			hub, err := svc.SearchForHub(config.TimeoutSeconds)
			if err != nil {
				pterm.Warning.Printfln("discover: %v", err)
				continue
			}
			lastHub = hub
			pterm.Success.Printfln("Found %s", hub)

		case "connect":
			if lastHub == nil {
				pterm.Warning.Println("discover first")
				continue
			}
			code := ""
			if len(fields) > 1 {
				code = fields[1]
			} else {
				code, err = promptAdminCode()
				if err != nil {
					pterm.Error.Printfln("connect: %v", err)
					continue
				}
			}
			if err := svc.ConnectToHub(*lastHub, code); err != nil {
				pterm.Error.Printfln("connect: %v", err)
				continue
			}
			pterm.Success.Println("Session established")

		case "dataset":
			dataset, err := svc.GetThreadDataset()
			if err != nil {
				pterm.Error.Printfln("dataset: %v", err)
				continue
			}
			renderDataset(dataset)

		case "close":
			if err := svc.Close(); err != nil {
				pterm.Warning.Printfln("close: %v", err)
			}

		case "status":
			if lastHub != nil {
				pterm.Info.Printfln("Last hub: %s", lastHub)
			} else {
				pterm.Info.Println("No hub discovered yet")
			}

		case "help":
			printHelp()

		case "quit", "exit":
			return

		default:
			pterm.Warning.Printfln("unknown command %q; try help", fields[0])
		}
	}
}

func printHelp() {
	fmt.Println(`Commands:
  discover          find commissioning-mode border routers
  connect [code]    connect to the last discovered router
  dataset           petition and fetch the operational dataset
  close             tear down the session
  status            show discovery state
  quit              exit`)
}
