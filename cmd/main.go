/*
Copyright 2025 Dfewatch Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dfewatch/dfewatch"
	"github.com/dfewatch/dfewatch/config"
	"github.com/dfewatch/dfewatch/database"
	"github.com/dfewatch/dfewatch/internal/notification"
)

// Dfewatch represents the CLI application, encapsulating the root Cobra command.
type Dfewatch struct {
	cmd *cobra.Command
}

// dfewatchInstance holds the runtime service instance and its configuration,
// shared by all subcommands.
type dfewatchInstance struct {
	service *dfewatch.Dfewatch
	cnf     *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the service instance before
// any command runs.
func preRun(app *dfewatchInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("dfewatch.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newService, err := setupService(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.service = newService
		app.cnf = cnf

		return nil
	}
}

// setupService wires the datasource into a new service instance.
func setupService(cfg *config.Configuration) (*dfewatch.Dfewatch, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newService, err := dfewatch.NewDfewatch(db)
	if err != nil {
		return nil, fmt.Errorf("error creating dfewatch: %v", err)
	}
	return newService, nil
}

// NewCLI creates the command-line interface for the application.
func NewCLI() *Dfewatch {
	var configFile string
	d := &dfewatchInstance{}

	var rootCmd = &cobra.Command{
		Use:   "dfewatch",
		Short: "Fiscal document monitoring",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./dfewatch.json", "Configuration file for dfewatch")
	rootCmd.PersistentPreRunE = preRun(d)

	rootCmd.AddCommand(serverCommands(d))
	rootCmd.AddCommand(workerCommands(d))
	rootCmd.AddCommand(migrateCommands(d))

	return &Dfewatch{cmd: rootCmd}
}

func (w Dfewatch) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
