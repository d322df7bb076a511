package main

import (
	"fmt"
	"strings"

	"github.com/CodedInternet/gopneumatic/rig"
	"github.com/CodedInternet/gopneumatic/rig/record"
	"github.com/abiosoft/ishell"
	"gopkg.in/yaml.v2"
)

// SHELL_OPERATOR is recorded against runs stopped or described from the local shell.
const SHELL_OPERATOR = "shell"

// newShell builds the operator shell. Ctrl-C inside the shell stops the trial instead of exiting.
func newShell(session *rig.Session, index *record.Index) *ishell.Shell {
	experimentNames := func([]string) (names []string) {
		ms, err := index.All()
		if err != nil {
			return nil
		}
		for _, m := range ms {
			names = append(names, m.Name)
		}
		return names
	}

	shell := ishell.New()
	shell.Println("Soft robot rig shell")
	shell.ShowPrompt(true)

	shell.Interrupt(func(c *ishell.Context, count int, input string) {
		c.Println("Stopping trial, ramping down")
		session.StopBy(SHELL_OPERATOR)
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "createoperator",
		Help: "createoperator <email> <password> [admin]: admins may also rename and delete experiments",
		Func: func(c *ishell.Context) {
			// disable the '>>>' for cleaner same line input.
			c.ShowPrompt(false)
			defer c.ShowPrompt(true) // yes, revert when done.

			// get email
			var email string
			if len(c.Args) >= 1 {
				email = c.Args[0]
			} else {
				c.Print("Email: ")
				email = c.ReadLine()
			}

			// get password
			var password string
			if len(c.Args) >= 2 {
				password = c.Args[1]
			} else {
				c.Print("Password: ")
				password = c.ReadPassword()
			}

			var admin bool
			if len(c.Args) >= 3 {
				admin = c.Args[2] == "admin"
			} else if len(c.Args) < 2 {
				c.Print("Admin [y/N]: ")
				admin = strings.HasPrefix(strings.ToLower(strings.TrimSpace(c.ReadLine())), "y")
			}

			op := &Operator{
				Email: email,
				Name:  strings.SplitN(email, "@", 2)[0],
				Admin: admin,
			}
			if err := op.SetPassword([]byte(password)); err != nil {
				c.Err(err)
				return
			}
			if err := ENV.DB.Save(op); err != nil {
				c.Err(err)
				return
			}

			c.Println("Operator created")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "status",
		Help: "show the state of the current trial",
		Func: func(c *ishell.Context) {
			st := session.Status()
			c.Printf("%s %s %s\n", st.State, st.Wave, rig.ProgressBar(seconds(st.Elapsed), seconds(st.Total), rig.PROGRESS_WIDTH))
			for i, channel := range st.Channels {
				if i < len(st.Desired) && i < len(st.Measured) {
					c.Printf("  channel %d: pd %.3f pm %v faults %d\n", channel, st.Desired[i], st.Measured[i], st.Faults[channel])
				}
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "stop",
		Help: "stop the trial early and ramp down",
		Func: func(c *ishell.Context) {
			session.StopBy(SHELL_OPERATOR)
			c.Println("Stop requested")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "describe",
		Help: "describe <text>: set the current run's description, or an experiment's with describe -e <name> <text>",
		Func: func(c *ishell.Context) {
			if len(c.Args) >= 3 && c.Args[0] == "-e" {
				if _, err := index.Describe(c.Args[1], strings.Join(c.Args[2:], " "), SHELL_OPERATOR); err != nil {
					c.Err(err)
				}
				return
			}
			session.SetDescriptionBy(strings.Join(c.Args, " "), SHELL_OPERATOR)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "experiments",
		Help: "list recorded experiments",
		Func: func(c *ishell.Context) {
			ms, err := index.All()
			if err != nil {
				c.Err(err)
				return
			}
			for _, m := range ms {
				c.Printf("%-24s %-12s %6d rows  %s\n", m.Name, m.ExperimentType, m.SampleCount, m.Description)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "show",
		Completer: experimentNames,
		Help:      "show <name>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("usage: show <name>"))
				return
			}
			m, err := index.Get(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			out, _ := yaml.Marshal(m)
			c.Println(m.Path)
			c.Print(string(out))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "rename",
		Completer: experimentNames,
		Help:      "rename <from> <to>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 2 {
				c.Err(fmt.Errorf("usage: rename <from> <to>"))
				return
			}
			if _, err := index.Rename(c.Args[0], c.Args[1]); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "delete",
		Completer: experimentNames,
		Help:      "delete <name> [files]: drop an experiment, and its files when asked",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("usage: delete <name> [files]"))
				return
			}
			files := len(c.Args) > 1 && c.Args[1] == "files"
			if err := index.Delete(c.Args[0], files); err != nil {
				c.Err(err)
			}
		},
	})

	return shell
}
