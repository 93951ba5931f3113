/*
Copyright 2022 The Numaproj Authors.

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

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	dfv1 "github.com/numaproj/deltaflow/pkg/apis/dataflow/v1alpha1"
	"github.com/numaproj/deltaflow/pkg/graph"
	"github.com/numaproj/deltaflow/pkg/shared/logging"
)

func NewValidateCommand() *cobra.Command {
	var file string

	command := &cobra.Command{
		Use:   "validate",
		Short: "Verify a pipeline spec and print its plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("a pipeline spec file is required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read pipeline spec, error: %w", err)
			}
			spec, err := dfv1.ParsePipelineSpec(data)
			if err != nil {
				return err
			}
			g, err := graph.Build(*spec, nil, nil)
			if err != nil {
				return err
			}
			logging.NewLogger().Named("validate").Debugw("Pipeline spec is valid", "pipeline", g.Name, "nodes", len(g.Nodes))
			_, err = fmt.Fprint(cmd.OutOrStdout(), g.Plan())
			return err
		},
	}
	command.Flags().StringVarP(&file, "file", "f", "", "Pipeline spec file, YAML or JSON")
	return command
}
