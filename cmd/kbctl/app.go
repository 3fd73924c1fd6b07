package main

import (
	"context"
	"fmt"
	"kbmigrate/client"
	"kbmigrate/driver"
	"kbmigrate/logger"
	"kbmigrate/progress"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

const (
	minChunk = 1
	maxChunk = 100
)

func NewApp() *cli.App {
	return &cli.App{
		Name:  "kbctl",
		Usage: "move knowledge bases between migration servers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://localhost:8000/kb-migration",
				Usage:   "root url of the migration API",
				EnvVars: []string{"KBCTL_SERVER"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "authorization token, sent as \"Token <token>\" unless it carries a type",
				EnvVars: []string{"KBCTL_TOKEN"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 60 * time.Second,
				Usage: "time to wait for each response",
			},
			&cli.IntFlag{
				Name:  "chunk",
				Value: driver.DefaultChunkSize,
				Usage: "items per request (1..100)",
			},
			&cli.IntFlag{
				Name:  "retries",
				Value: 3,
				Usage: "times a request that got no answer is sent again",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
			},
		},
		Before: func(c *cli.Context) error {
			if chunk := c.Int("chunk"); chunk < minChunk || chunk > maxChunk {
				return errors.Errorf("chunk size must be between %d and %d, got %d", minChunk, maxChunk, chunk)
			}
			if c.Int("retries") < 0 {
				return errors.New("retries cannot be a negative value")
			}
			logger.SetOut(c.App.ErrWriter)
			return logger.SetLevel(c.String("log-level"))
		},
		Commands: []*cli.Command{
			{
				Name:  "export",
				Usage: "export the server's knowledge base into a new file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "download the export file to this path"},
				},
				Action: exportAction,
			},
			{
				Name:      "import",
				Usage:     "import an archived file, or a local one with --file",
				ArgsUsage: "[name]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "upload this local file first"},
					&cli.Int64Flag{Name: "default-author", Usage: "author of posts whose author does not exist on the server"},
				},
				Action: importAction,
			},
			{
				Name:      "upload",
				Usage:     "upload a local export file",
				ArgsUsage: "<path>",
				Action:    uploadAction,
			},
			{
				Name:  "list",
				Usage: "list archived files",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "filter", Aliases: []string{"q"}, Usage: "RQL filter, e.g. like(name,*2024*)"},
				},
				Action: listAction,
			},
			{
				Name:      "delete",
				Usage:     "delete an archived file, or all of them",
				ArgsUsage: "<name|all>",
				Action:    deleteAction,
			},
			{
				Name:  "purge",
				Usage: "delete all knowledge base data of the server",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "confirm the deletion"},
				},
				Action: purgeAction,
			},
		},
	}
}

func newClient(c *cli.Context) *client.Client {
	return client.New(c.String("server"), c.String("token"))
}

func newRunner(c *cli.Context, transport driver.Transport) *driver.Runner {
	return driver.NewRunner(transport, c.Duration("timeout"), progress.LogReporter{})
}

//run drives the session, re-sending unanswered requests with exponential backoff.
func run(c *cli.Context, runner *driver.Runner, s driver.Session) (driver.Session, error) {
	ctx := c.Context
	s, err := runner.Run(ctx, s)
	retries := c.Int("retries")
	if err == nil || retries == 0 || !driver.IsRetryable(err) {
		return s, err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries)), ctx)
	backoff.RetryNotify(func() error {
		if !driver.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		s, err = runner.Retry(ctx, s)
		return err
	}, policy, func(err error, wait time.Duration) {
		logger.Warn("%s; retrying in %s", err.Error(), wait)
	})
	return s, err
}

func exportAction(c *cli.Context) error {
	api := newClient(c)
	s, err := run(c, newRunner(c, api), driver.NewExportSession(c.Int("chunk")))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Exported %d items into %s\n", s.Processed, s.Artifact)
	fmt.Fprintln(c.App.Writer, s.Link)

	if output := c.String("output"); output != "" {
		if err := download(c.Context, api, s.Link, output); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Saved to %s\n", output)
	}
	return nil
}

func download(ctx context.Context, api *client.Client, link string, output string) error {
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}
	file, err := os.Create(output)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = api.Download(ctx, link, file)
	return err
}

func importAction(c *cli.Context) error {
	api := newClient(c)
	name := c.Args().First()
	if local := c.String("file"); local != "" {
		uploaded, err := api.UploadArtifact(c.Context, local)
		if err != nil {
			return err
		}
		name = uploaded
	}
	if name == "" {
		return errors.New("import needs a file name or --file")
	}

	s, err := run(c, newRunner(c, api), driver.NewImportSession(name, c.Int("chunk"), c.Int64("default-author")))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Imported %d items from %s\n", s.Processed, name)
	for _, failure := range s.Failures {
		fmt.Fprintf(c.App.Writer, "  item %d skipped: %s\n", failure.Id, failure.Reason)
	}
	return nil
}

func uploadAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("upload needs exactly one path")
	}
	name, err := newClient(c).UploadArtifact(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, name)
	return nil
}

func listAction(c *cli.Context) error {
	list, err := newClient(c).ListArtifacts(c.Context, c.String("filter"))
	if err != nil {
		return err
	}
	for _, artifact := range list {
		size, _ := artifact["size"].(float64)
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", artifact["name"], humanize.Bytes(uint64(size)), artifact["created"])
	}
	return nil
}

func deleteAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("delete needs a file name or \"all\"")
	}
	deleted, err := newClient(c).DeleteArtifact(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "deleted: %t\n", deleted)
	return nil
}

func purgeAction(c *cli.Context) error {
	if !c.Bool("yes") {
		return errors.New("refusing to delete all data without --yes")
	}
	report, err := newClient(c).PurgeAll(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted %d posts, %d sections, %d tags\n", report.Posts, report.Sections, report.Tags)
	return nil
}
