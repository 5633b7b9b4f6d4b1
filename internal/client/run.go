package client

import (
	"fmt"
	"io"
)

// Run executes one uploader invocation: prepare the page, unlock it when a
// password is given, then upload each file. Progress goes to out.
func Run(opts *Options, out io.Writer) error {
	c := New(opts.ServerURL)

	token := ""
	if opts.Password != "" {
		// Creates the protected page if it doesn't exist yet; an existing
		// page is returned as-is, its password untouched.
		created, err := c.CreatePage(opts.Identifier, opts.Password, opts.Duration, opts.Unit)
		if err != nil {
			return err
		}
		if created.Message != "" {
			fmt.Fprintln(out, created.Message)
		}

		token, err = c.ValidatePassword(opts.Identifier, opts.Password)
		if err != nil {
			return err
		}
	}

	for _, path := range opts.Files {
		resp, err := c.Upload(opts.Identifier, token, path, opts.Duration, opts.Unit)
		if err != nil {
			return fmt.Errorf("upload of %s failed: %w", path, err)
		}
		fmt.Fprintf(out, "✓ Uploaded %s (%s), expires %s\n",
			resp.File.OriginalName, resp.File.Size,
			resp.File.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
		if resp.Message != "" {
			fmt.Fprintln(out, resp.Message)
		}
	}
	return nil
}
