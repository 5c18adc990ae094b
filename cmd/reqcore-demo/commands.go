package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/msavchenko/reqcore/pkg/reqcore"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the demo's items server standalone, for manual requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, shutdown := newDemoTestServer()
		defer shutdown()
		fmt.Println("listening at", url)

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [path]",
	Short: "Issue one GET through RequestCore",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/items"
		if len(args) > 0 {
			path = args[0]
		}
		url, shutdown := resolveBaseURL(baseURL)
		defer shutdown()

		core := buildCore(url)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := core.Get(ctx, path, reqcore.WithTag("demo-get"))
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var postCmd = &cobra.Command{
	Use:   "post [name]",
	Short: "Create an item through RequestCore",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "new-item"
		if len(args) > 0 {
			name = args[0]
		}
		url, shutdown := resolveBaseURL(baseURL)
		defer shutdown()

		core := buildCore(url)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := core.Post(ctx, "/items", map[string]string{"name": name}, reqcore.WithTag("demo-post"))
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Fan out several GETs with bounded concurrency",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, shutdown := resolveBaseURL(baseURL)
		defer shutdown()

		core := buildCore(url)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cfgs := make([]*reqcore.RequestConfig, 5)
		for i := range cfgs {
			cfg, err := reqcore.NewBuilder().URL("/items/1").Tag("demo-batch").Build()
			if err != nil {
				return err
			}
			cfgs[i] = cfg
		}

		results, err := core.Batch(ctx, cfgs, &reqcore.ConcurrencyOptions{MaxConcurrency: reqcore.IntPtr(2)})
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Err != nil {
				fmt.Printf("task %d: error: %v\n", r.Index, r.Err)
				continue
			}
			fmt.Printf("task %d: status %d\n", r.Index, r.Response.StatusCode)
		}
		return nil
	},
}

var serialCmd = &cobra.Command{
	Use:   "serial",
	Short: "Issue several writes to the same key through the SerialQueue",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, shutdown := resolveBaseURL(baseURL)
		defer shutdown()

		core := buildCore(url)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for i := 0; i < 3; i++ {
			resp, err := core.Put(ctx, "/items/1", map[string]string{"name": fmt.Sprintf("update-%d", i)},
				reqcore.WithTag("demo-serial"), reqcore.WithSerialKey("items/1"))
			if err != nil {
				return err
			}
			fmt.Printf("update %d: status %d\n", i, resp.StatusCode)
		}
		fmt.Println("serial queue depth after run:", core.SerialQueue().Depth())
		return nil
	},
}

func printResponse(resp *reqcore.Response) error {
	b, err := json.MarshalIndent(resp.Data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("status: %d\n%s\n", resp.StatusCode, b)
	return nil
}
