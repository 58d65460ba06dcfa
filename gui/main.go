package main

import (
	"embed"
	"flag"
	"log"
	"strings"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	attach := flag.Int("attach", 0, "pid to attach to on startup")
	launch := flag.String("launch", "", "comma-separated argv to launch on startup")
	flag.Parse()

	app := NewApp()

	switch {
	case *attach != 0:
		if err := app.Attach(*attach); err != nil {
			log.Fatalf("failed to attach to pid %d: %v", *attach, err)
		}
	case *launch != "":
		if err := app.Launch(strings.Split(*launch, ",")); err != nil {
			log.Fatalf("failed to launch %v: %v", *launch, err)
		}
	}

	err := wails.Run(&options.App{
		Title:  "x86dbg",
		Width:  1280,
		Height: 800,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		OnStartup:        app.startup,
		Bind: []interface{}{
			app,
		},
	})

	if err != nil {
		log.Fatal(err)
	}
}
