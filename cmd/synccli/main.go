// Command synccli drives one-shot operations against the sync engine's
// store: authenticate, sync-now, force-reset-sync, and the dedupe
// maintenance pair. Interactive prompts follow the teacher pack's
// charmbracelet/huh form idiom (JonyBepary-son-of-anthon's setup wizard).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/obsidian-gcal/syncengine/internal/config"
	"github.com/obsidian-gcal/syncengine/internal/model"
	"github.com/obsidian-gcal/syncengine/internal/oauth2mgr"
	"github.com/obsidian-gcal/syncengine/internal/remote"
	"github.com/obsidian-gcal/syncengine/internal/store"
	"github.com/obsidian-gcal/syncengine/internal/syncrun"
	"github.com/obsidian-gcal/syncengine/internal/tokenstore"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	st, err := store.Open(cfg.DBPath, cfg.MigrationsDir)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	if persistedPort, err := st.LoadRedirectPort(); err != nil {
		log.Printf("warning: failed to read persisted redirect port: %v", err)
	} else if persistedPort != 0 {
		cfg.Settings.RedirectPort = persistedPort
	}

	tokens := tokenstore.New(st, cfg.Settings.RememberPassphrase)

	if !cfg.Settings.RememberPassphrase && requiresPassphrase(os.Args[1]) {
		if pass := promptPassphrase(); pass != "" {
			tokens.SetPassphrase(pass)
		}
	}

	oauth := oauth2mgr.New(oauth2mgr.Endpoints{
		AuthorizationURL: cfg.AuthorizationURL,
		TokenURL:         cfg.TokenURL,
		RevocationURL:    cfg.RevocationURL,
		Scope:            cfg.Scope,
	}, cfg.Settings.ClientID, cfg.Settings.ClientSecret, tokens)

	remoteClient := remote.New(oauth.EnsureAccessToken)

	settings := cfg.Settings
	engine := syncrun.New(st, oauth, remoteClient, func() model.Settings { return settings })

	ctx := context.Background()

	switch os.Args[1] {
	case "authenticate":
		runAuthenticate(ctx, engine, settings.RedirectPort)
	case "sync-now":
		runSyncNow(ctx, engine)
	case "force-reset-sync":
		runForceReset(ctx, engine)
	case "dedupe-dry-run":
		runDedupeDryRun(ctx, engine)
	case "dedupe-exec":
		runDedupeExec(ctx, engine)
	case "revoke":
		runRevoke(ctx, engine)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: synccli <authenticate|sync-now|force-reset-sync|dedupe-dry-run|dedupe-exec|revoke>")
}

func requiresPassphrase(cmd string) bool {
	switch cmd {
	case "authenticate", "sync-now", "dedupe-exec", "revoke":
		return true
	default:
		return false
	}
}

func promptPassphrase() string {
	var pass string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Token store passphrase").
				Description("Leave blank to use obfuscation only (weaker at-rest protection).").
				EchoMode(huh.EchoModePassword).
				Value(&pass),
		),
	).Run()
	if err != nil {
		log.Fatalf("passphrase prompt aborted: %v", err)
	}
	return pass
}

func runAuthenticate(ctx context.Context, engine *syncrun.Engine, redirectPort int) {
	authURL, srv, warning, err := engine.StartAuthorization(ctx, redirectPort)
	if err != nil {
		log.Fatalf("starting authorization: %v", err)
	}
	if warning != nil {
		fmt.Println(warning.Error())
	}

	fmt.Println("Open this URL in a browser to authorize:")
	fmt.Println(authURL)
	openBrowser(authURL)

	fmt.Println("Waiting for the authorization callback...")
	deadline := time.After(5 * time.Minute)
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			_ = srv.Stop(ctx)
			log.Fatal("timed out waiting for authorization")
		case <-tick.C:
			if engine.CredentialsReady(ctx) {
				_ = srv.Stop(ctx)
				fmt.Println("Authorization complete.")
				return
			}
		}
	}
}

func runSyncNow(ctx context.Context, engine *syncrun.Engine) {
	result, err := engine.Sync(ctx)
	if err != nil {
		log.Fatalf("sync failed: %v", err)
	}
	fmt.Printf("sync complete in %s: created=%d updated=%d deleted=%d skipped=%d errors=%d\n",
		result.Duration, result.Counters.Created, result.Counters.Updated,
		result.Counters.Deleted, result.Counters.Skipped, result.Counters.Errors)
	for _, note := range result.Notes {
		fmt.Println("  -", note)
	}
}

func runForceReset(ctx context.Context, engine *syncrun.Engine) {
	if err := engine.ForceResetSync(ctx); err != nil {
		log.Fatalf("force reset failed: %v", err)
	}
	fmt.Println("sync state cleared; the next run rebuilds the task-to-event links from the calendar")
}

func runDedupeDryRun(ctx context.Context, engine *syncrun.Engine) {
	report, err := engine.DedupeDryRun(ctx, 85)
	if err != nil {
		log.Fatalf("dedupe dry run failed: %v", err)
	}
	if len(report.Pairs) == 0 {
		fmt.Println("no near-duplicate events found")
		return
	}
	for _, p := range report.Pairs {
		fmt.Printf("%.1f%%  keep=%s (%s)  candidate-delete=%s (%s)\n",
			p.Score, p.A.ID, p.A.Summary, p.B.ID, p.B.Summary)
	}
}

func runDedupeExec(ctx context.Context, engine *syncrun.Engine) {
	counters, err := engine.DedupeExec(ctx, 85)
	if err != nil {
		log.Fatalf("dedupe exec failed: %v", err)
	}
	fmt.Printf("dedupe complete: deleted=%d errors=%d\n", counters.Deleted, counters.Errors)
}

func runRevoke(ctx context.Context, engine *syncrun.Engine) {
	if err := engine.Revoke(ctx); err != nil {
		log.Fatalf("revoke failed: %v", err)
	}
	fmt.Println("credentials revoked and cleared")
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	_ = cmd.Start()
}
