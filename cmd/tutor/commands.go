package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
	"github.com/xhad/tutor/pkg/fusion"
	"github.com/xhad/tutor/pkg/source"
	"github.com/xhad/tutor/server"
)

// loadSource opens a text file, or crawls location when it is a URL.
func (a *app) loadSource(ctx context.Context, location string) (types.PageSource, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		return source.LoadText(location)
	}

	spinner := getSpinner("Fetching course pages...")
	web, err := a.webSource(location, func(string) { spinner.Add(1) })
	if err != nil {
		spinner.Finish()
		return nil, err
	}
	err = web.Load(ctx)
	spinner.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", location, err)
	}
	color.Green("\n✓ Fetched %d pages\n", web.PageCount())
	return web, nil
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "ingest <namespace> <file|url>",
		Short: "Chunk, embed and index a document under a namespace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			namespace, location := args[0], args[1]

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			src, err := a.loadSource(ctx, location)
			if err != nil {
				return err
			}

			if replace {
				if err := a.index.DeleteNamespace(ctx, namespace); err != nil {
					return fmt.Errorf("failed to clear namespace %s: %w", namespace, err)
				}
			}

			var bar *progressbar.ProgressBar
			p, err := a.pipeline(func(done, total int) {
				if bar == nil {
					bar = getProgressBar(total, "Embedding chunks...")
				}
				bar.Set(done)
			})
			if err != nil {
				return err
			}

			color.Blue("\nIngesting %s into %q\n", location, namespace)
			report, err := p.Ingest(ctx, namespace, src)
			if bar != nil {
				bar.Finish()
			}
			if err != nil {
				return err
			}

			color.Green("\n✓ Indexed %d of %d chunks from %d pages (page offset %d, %d ToC entries)\n",
				report.Indexed, report.Chunks, report.Pages, report.Offset, report.Toc.Len())
			if len(report.Failed) > 0 {
				color.Yellow("! %d chunks could not be embedded: %v\n", len(report.Failed), report.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Delete the namespace before ingesting")
	return cmd
}

func newTocCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toc <file|url>",
		Short: "Print the page offset and table of contents of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			src, err := a.loadSource(ctx, args[0])
			if err != nil {
				return err
			}
			resolver, err := a.resolver()
			if err != nil {
				return err
			}

			off, err := resolver.InferOffset(ctx, src)
			if err != nil {
				return err
			}
			toc, err := resolver.ExtractToc(ctx, src)
			if err != nil {
				return err
			}

			color.Cyan("Page offset: %d\n", off)
			if toc.Len() == 0 {
				color.Yellow("No table of contents found\n")
				return nil
			}
			for _, e := range toc.Entries() {
				fmt.Printf("%-60s %5d  (file page %d)\n", e.Title, e.Page, e.Page+off)
			}
			return nil
		},
	}
}

func newNamespacesCmd(opts *rootOptions) *cobra.Command {
	var remove string

	cmd := &cobra.Command{
		Use:   "namespaces",
		Short: "List indexed namespaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if remove != "" {
				if err := a.index.DeleteNamespace(ctx, remove); err != nil {
					return err
				}
				color.Green("✓ Deleted %s\n", remove)
				return nil
			}

			names, err := a.index.ListNamespaces(ctx)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&remove, "delete", "", "Delete this namespace instead of listing")
	return cmd
}

type chatOptions struct {
	lessons   string
	scope     string
	namespace string
	deep      bool
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var co chatOptions

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the indexed course material",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("deep") {
				co.deep = a.cfg.Fusion.DeepSearch
			}
			return a.chatLoop(ctx, co)
		},
	}
	cmd.Flags().StringVar(&co.lessons, "lessons", "", "YAML file of lessons to rank against")
	cmd.Flags().StringVar(&co.scope, "scope", "", "Lesson scope (class) to rank against")
	cmd.Flags().StringVar(&co.namespace, "namespace", "", "Restrict search to one namespace")
	cmd.Flags().BoolVar(&co.deep, "deep", true, "Search course material for every question")
	return cmd
}

func (a *app) chatLoop(ctx context.Context, co chatOptions) error {
	lessons, scope, err := loadLessons(co.lessons, co.scope)
	if err != nil {
		return err
	}
	co.scope = scope

	orch, chat, err := a.assistant(lessons)
	if err != nil {
		return err
	}
	if lessons != nil {
		color.Cyan("Ranking lessons from scope %q", co.scope)
	}

	color.Cyan("\nChat with your course material (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	var history models.History
	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.ToLower(query) == "exit" {
			break
		}

		spinner := getSpinner("Searching course material...")
		res, err := orch.ComposePrompt(ctx, fusion.Request{
			History:    history.Turns(),
			Query:      query,
			Namespace:  co.namespace,
			Scope:      co.scope,
			DeepSearch: co.deep,
		})
		spinner.Finish()
		fmt.Print("\r")
		if err != nil {
			return err
		}

		for _, item := range res.Referenced {
			color.Yellow("\nRelated lesson: %s", item.Title)
		}

		var answer string
		if a.cfg.LLM.Streaming {
			stream, err := chat.ChatStream(ctx, res.Prompt)
			if err != nil {
				color.Red("Error: %v\n", err)
				continue
			}
			fmt.Print("\n")
			assistantPrompt("Assistant: ")
			var b strings.Builder
			for chunk := range stream {
				b.WriteString(chunk)
				assistantPrompt("%s", chunk)
			}
			fmt.Print("\n")
			answer = b.String()
			if strings.HasPrefix(answer, "Error:") {
				continue
			}
		} else {
			spinner := getSpinner("Generating response...")
			reply, err := chat.Chat(ctx, res.Prompt)
			spinner.Finish()
			fmt.Print("\r")
			if err != nil {
				color.Red("Error: %v\n", err)
				continue
			}
			assistantPrompt("\nAssistant: %s\n", reply.Content)
			answer = reply.Content
		}

		history.Append(models.RoleUser, query)
		history.Append(models.RoleAssistant, answer)
	}
	return scanner.Err()
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var lessons string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve websocket chat, health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			var lessonFile *source.LessonFile
			if lessons != "" {
				if lessonFile, err = source.LoadLessons(lessons); err != nil {
					return err
				}
			}
			orch, chat, err := a.assistant(lessonFile)
			if err != nil {
				return err
			}
			srv, err := server.NewWSServer(orch, chat, server.Config{
				Streaming:  a.cfg.LLM.Streaming,
				DeepSearch: a.cfg.Fusion.DeepSearch,
				Gatherer:   a.registry,
				Logger:     &a.log,
			})
			if err != nil {
				return err
			}

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&lessons, "lessons", "", "YAML file of lessons to rank against")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to server.addr)")
	return cmd
}
