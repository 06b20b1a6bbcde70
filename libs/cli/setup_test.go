package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestBindFlagsLoadViper(t *testing.T) {
	defer viper.Reset()

	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "config"), 0700))
	require.NoError(t, os.WriteFile(
		filepath.Join(home, "config", ConfigName+".toml"),
		[]byte("[client]\ndb-name = \"from-file\"\n"), 0600))

	var got string
	cmd := &cobra.Command{
		Use: "probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			got = viper.GetString("client.db-name")
			return nil
		},
	}
	PrepareBaseCmd(cmd, "RSTEST", home)
	cmd.SetArgs([]string{"--home", home})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "from-file", got)
}

func TestBindFlagsMissingConfig(t *testing.T) {
	defer viper.Reset()

	cmd := &cobra.Command{Use: "probe", RunE: func(*cobra.Command, []string) error { return nil }}
	PrepareBaseCmd(cmd, "RSTEST", t.TempDir())
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
}
