// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/gorse-io/mfrec/base/log"
	"github.com/gorse-io/mfrec/cmd/version"
	"github.com/gorse-io/mfrec/config"
	"github.com/gorse-io/mfrec/logics"
	"github.com/gorse-io/mfrec/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	exitCode int
	output   io.Writer = os.Stdout
)

var rootCommand = &cobra.Command{
	Use:   "mfrec",
	Short: "Matrix factorization recommender.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
}

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Train the model on all ratings and save it as the latest model.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		s := mustOpenStores(conf)
		defer s.Close()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		result, err := logics.NewTrainer(conf, s.data, s.meta, s.vectors).Train(ctx)
		if err != nil {
			printError(err)
			return
		}
		printJSON(result)
	},
}

var recommendCommand = &cobra.Command{
	Use:   "recommend <user-id>",
	Short: "Recommend items to a user and save them as the latest recommendation.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		if topK, _ := cmd.Flags().GetInt("top-k"); topK > 0 {
			conf.Recommend.TopK = topK
		}
		s := mustOpenStores(conf)
		defer s.Close()
		result, err := logics.NewRecommender(conf, s.data, s.meta, s.vectors).Recommend(context.Background(), args[0])
		if err != nil {
			printError(err)
			return
		}
		printJSON(result)
	},
}

var evaluateCommand = &cobra.Command{
	Use:   "evaluate",
	Short: "Hold out ratings user by user and report the RMSE of the configured model.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		s := mustOpenStores(conf)
		defer s.Close()
		result, err := logics.Evaluate(context.Background(), conf, s.data)
		if err != nil {
			printError(err)
			return
		}
		printJSON(result)
	},
}

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Serve recommendations over HTTP and retrain the model periodically.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		s := mustOpenStores(conf)
		defer s.Close()
		srv := server.NewServer(conf, s.data, s.meta, s.vectors)
		// Stop server
		done := make(chan struct{})
		go func() {
			sigint := make(chan os.Signal, 1)
			signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
			<-sigint
			srv.Shutdown(context.Background())
			close(done)
		}()
		srv.Serve()
		<-done
		log.Logger().Info("stop mfrec server successfully")
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print the version of mfrec.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(output, version.BuildInfo())
	},
}

func loadConfig(cmd *cobra.Command) *config.Config {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	return conf
}

func printJSON(v any) {
	encoder := json.NewEncoder(output)
	if err := encoder.Encode(v); err != nil {
		log.Logger().Fatal("failed to write output", zap.Error(err))
	}
}

// printError prints the error payload. The process exits with a non-zero code.
func printError(err error) {
	log.Logger().Error("command failed", zap.Error(err))
	printJSON(map[string]string{"error": err.Error()})
	exitCode = 1
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	recommendCommand.Flags().Int("top-k", 0, "number of recommended items (overrides recommend.top_k)")
	rootCommand.AddCommand(trainCommand, recommendCommand, evaluateCommand, serveCommand, versionCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
	os.Exit(exitCode)
}
