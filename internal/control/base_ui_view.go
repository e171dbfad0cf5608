package control

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/go_func_utils"
)

// refreshInterval paces log resize checks and the disconnect countdown
const refreshInterval = 100 * time.Millisecond

// BaseUIView contains the base logic shared by all UI implementations
type BaseUIView struct {
	uiViewImpl   UIViewImpl
	uiModel      *UIModel
	uiController *UIController
	context      context.Context
	cancelFunc   context.CancelFunc
	waitGroup    sync.WaitGroup
	logger       *log.Logger
}

// NewBaseUIViewArg holds the arguments for creating a new BaseUIView
type NewBaseUIViewArg struct {
	UIViewImpl   UIViewImpl
	UIModel      *UIModel
	UIController *UIController
	Logger       *log.Logger
}

// NewBaseUIView creates a new BaseUIView with the given implementation
func NewBaseUIView(args NewBaseUIViewArg) *BaseUIView {
	if args.Logger == nil {
		panic("BaseUIView: logger cannot be nil")
	}
	if args.UIViewImpl == nil {
		panic("BaseUIView: UIViewImpl cannot be nil")
	}
	if args.UIModel == nil {
		panic("BaseUIView: UIModel cannot be nil")
	}
	if args.UIController == nil {
		panic("BaseUIView: UIController cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())

	base := &BaseUIView{
		uiViewImpl:   args.UIViewImpl,
		uiModel:      args.UIModel,
		uiController: args.UIController,
		context:      ctx,
		cancelFunc:   cancel,
		logger:       args.Logger,
	}

	args.UIViewImpl.Initialize(args.UIController)
	args.UIViewImpl.SetupKeyboardHandlers(args.UIController)
	args.UIViewImpl.UpdateBlindState(args.UIModel.GetBlindState())

	base.waitGroup.Add(1)
	go_func_utils.SafeGo(base.logger, func() { base.monitorRefresh() })
	base.updateLogDisplay()

	base.setupEventListeners()

	return base
}

func (base *BaseUIView) setupEventListeners() {
	// Listen to log messages from model
	logChan := make(chan string, 1)
	logUnregister := base.uiModel.ListenToLog(logChan)
	base.waitGroup.Add(1)
	go_func_utils.SafeGo(base.logger, func() {
		defer base.waitGroup.Done()
		defer logUnregister()
		for {
			select {
			case <-base.context.Done():
				return
			case _, ok := <-logChan:
				if !ok {
					return
				}
				base.updateLogDisplay()
				base.draw()
			}
		}
	})

	// Listen to blind state changes from model
	stateChan := make(chan blind.State, 1)
	stateUnregister := base.uiModel.ListenToBlindState(stateChan)
	base.waitGroup.Add(1)
	go_func_utils.SafeGo(base.logger, func() {
		defer base.waitGroup.Done()
		defer stateUnregister()
		for {
			select {
			case <-base.context.Done():
				return
			case st, ok := <-stateChan:
				if !ok {
					return
				}
				base.uiViewImpl.UpdateBlindState(st)
				base.draw()
			}
		}
	})

	// Listen to close application event from model
	closeChan := make(chan struct{}, 1)
	closeUnregister := base.uiModel.ListenToCloseApplication(closeChan)
	base.waitGroup.Add(1)
	go_func_utils.SafeGo(base.logger, func() {
		defer base.waitGroup.Done()
		defer closeUnregister()
		select {
		case <-base.context.Done():
			return
		case _, ok := <-closeChan:
			if !ok {
				return
			}
			base.uiViewImpl.Stop()
		}
	})
}

func (base *BaseUIView) draw() {
	if err := base.uiViewImpl.Draw(); err != nil {
		base.logger.Printf("BaseUIView: Error drawing: %v", err)
	}
}

func (base *BaseUIView) updateLogDisplay() {
	height := base.uiViewImpl.GetLogViewHeight()
	if height <= 0 {
		return
	}

	logLines := base.uiModel.GetLogTail(height)

	base.uiViewImpl.ClearLogView()
	for _, line := range logLines {
		if err := base.uiViewImpl.WriteLogLine(line); err != nil {
			base.logger.Printf("BaseUIView: Error writing to log view: %v", err)
		}
	}
}

// monitorRefresh redraws the log on resize and ticks the disconnect countdown
func (base *BaseUIView) monitorRefresh() {
	defer base.waitGroup.Done()
	var lastHeight int
	var lastSecond time.Time
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-base.context.Done():
			return
		case now := <-ticker.C:
			redraw := false
			height := base.uiViewImpl.GetLogViewHeight()
			if height != lastHeight && height > 0 {
				lastHeight = height
				base.updateLogDisplay()
				redraw = true
			}
			if st := base.uiModel.GetBlindState(); !st.DisconnectDeadline.IsZero() && now.Sub(lastSecond) >= time.Second {
				lastSecond = now
				base.uiViewImpl.UpdateBlindState(st)
				redraw = true
			}
			if redraw {
				base.draw()
			}
		}
	}
}

// Shutdown stops all goroutines and waits for them to finish
func (base *BaseUIView) Shutdown() {
	base.logger.Println("BaseUIView: Shutting down")
	base.cancelFunc()
	base.waitGroup.Wait()
	base.logger.Println("BaseUIView: Shutdown complete")
}

// Run starts the UI and blocks until it exits
func (base *BaseUIView) Run() error {
	return base.uiViewImpl.Run()
}
