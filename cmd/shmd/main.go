/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command shmd owns the shared memory segments described by a YAML config
// until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/srediag/shmipc-core/internal/daemon"
	"github.com/srediag/shmipc-core/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config, defaults are used when empty")
	listen := flag.String("listen", "", "override the health and metrics listen address")
	logLevel := flag.Int("log-level", -1, "log level from 0 (trace) to 5 (silent), overrides "+logging.EnvLogLevel)
	flag.Parse()

	if *logLevel >= 0 {
		logging.SetLevel(logging.Level(*logLevel))
	}

	conf := daemon.DefaultConfig()
	if *configPath != "" {
		var err error
		if conf, err = daemon.LoadConfig(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "shmd: loading config:", err)
			os.Exit(2)
		}
	}
	if *listen != "" {
		conf.ListenAddress = *listen
	}

	d, err := daemon.New(conf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "shmd: invalid config:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := d.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "shmd:", err)
		os.Exit(1)
	}
}
