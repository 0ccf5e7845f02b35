// Package debugger provides an interactive TUI over a running machine:
// registers, disassembly around the PC, a memory window, and step/run
// commands.
package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lookbusy1344/imps-emulator/vm"
)

// Debugger drives a machine from a text user interface
type Debugger struct {
	Machine *vm.VM
	App     *tview.Application

	RegisterView    *tview.TextView
	DisassemblyView *tview.TextView
	MemoryView      *tview.TextView
	OutputView      *tview.TextView
	CommandInput    *tview.InputField

	// MemoryAddress is the first address shown in the memory window
	MemoryAddress uint32
}

// New creates a debugger over the given machine
func New(machine *vm.VM) *Debugger {
	d := &Debugger{
		Machine: machine,
		App:     tview.NewApplication(),
	}
	// Program output lands in the TUI, not on the terminal behind it
	d.initializeViews()
	machine.OutputWriter = tview.ANSIWriter(d.OutputView)
	d.buildLayout()
	return d
}

// initializeViews creates all the view panels
func (d *Debugger) initializeViews() {
	d.RegisterView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	d.RegisterView.SetBorder(true).SetTitle(" Registers ")

	d.DisassemblyView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	d.DisassemblyView.SetBorder(true).SetTitle(" Disassembly ")

	d.MemoryView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	d.MemoryView.SetBorder(true).SetTitle(" Memory ")

	d.OutputView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	d.OutputView.SetBorder(true).SetTitle(" Output ")

	d.CommandInput = tview.NewInputField().
		SetLabel("> ")
	d.CommandInput.SetBorder(true).SetTitle(" Command (s=step, r=run, m ADDR, q=quit) ")
	d.CommandInput.SetDoneFunc(d.handleCommand)
}

// buildLayout arranges the panels
func (d *Debugger) buildLayout() {
	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.DisassemblyView, 0, 2, false).
		AddItem(d.MemoryView, 0, 1, false)

	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.RegisterView, 0, 2, false).
		AddItem(d.OutputView, 0, 1, false)

	content := tview.NewFlex().
		AddItem(left, 0, 3, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(content, 0, 1, false).
		AddItem(d.CommandInput, 3, 0, true)

	d.App.SetRoot(root, true).SetFocus(d.CommandInput)
}

// Run refreshes the panes and enters the UI event loop
func (d *Debugger) Run() error {
	d.refresh()
	return d.App.Run()
}

// handleCommand executes one command line
func (d *Debugger) handleCommand(key tcell.Key) {
	if key != tcell.KeyEnter {
		return
	}
	line := strings.TrimSpace(d.CommandInput.GetText())
	d.CommandInput.SetText("")

	fields := strings.Fields(line)
	if len(fields) == 0 {
		fields = []string{"s"}
	}

	switch fields[0] {
	case "s", "step":
		d.step()
	case "r", "run":
		d.run()
	case "m", "mem":
		if len(fields) > 1 {
			if addr, err := strconv.ParseUint(fields[1], 0, 32); err == nil {
				d.MemoryAddress = uint32(addr) &^ 0xF
			}
		}
	case "q", "quit":
		d.App.Stop()
		return
	default:
		fmt.Fprintf(d.OutputView, "unknown command: %s\n", fields[0])
	}

	d.refresh()
}

// step executes a single instruction
func (d *Debugger) step() {
	if d.Machine.State == vm.StateHalted || d.Machine.State == vm.StateError {
		return
	}
	d.Machine.State = vm.StateRunning
	if err := d.Machine.Step(); err != nil {
		d.Machine.State = vm.StateError
		fmt.Fprintf(d.OutputView, "error: %v\n", err)
	}
}

// run executes until halt or error
func (d *Debugger) run() {
	if err := d.Machine.Run(); err != nil {
		fmt.Fprintf(d.OutputView, "error: %v\n", err)
	}
}

// refresh redraws every pane from the machine state
func (d *Debugger) refresh() {
	d.renderRegisters()
	d.renderDisassembly()
	d.renderMemory()
}

func (d *Debugger) renderRegisters() {
	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]PC [white] %10d  0x%08x\n", d.Machine.CPU.PC, d.Machine.CPU.PC)
	fmt.Fprintf(&b, "[yellow]cyc[white] %10d  state %s\n\n", d.Machine.CPU.Cycles, stateName(d.Machine.State))
	for i := 0; i < vm.NumRegisters; i++ {
		fmt.Fprintf(&b, "[green]$%-2d[white] %11d  0x%08x\n", i, d.Machine.CPU.R[i], uint32(d.Machine.CPU.R[i]))
	}
	d.RegisterView.SetText(b.String())
}

func (d *Debugger) renderDisassembly() {
	const context = 8
	var b strings.Builder

	pc := d.Machine.CPU.PC
	first := int64(pc) - context*vm.InstructionSize
	for off := int64(0); off <= 2*context*vm.InstructionSize; off += vm.InstructionSize {
		addr := first + off
		if addr < 0 || addr+4 > vm.MemorySize {
			continue
		}
		word, err := d.Machine.Memory.ReadWord(uint32(addr))
		if err != nil {
			continue
		}
		marker := "  "
		color := "[white]"
		if uint32(addr) == pc {
			marker = "=>"
			color = "[yellow]"
		}
		fmt.Fprintf(&b, "%s%s %5d  %08x  %s\n", color, marker, addr, word, vm.Disassemble(word))
	}
	d.DisassemblyView.SetText(b.String())
}

func (d *Debugger) renderMemory() {
	const rows = 16
	var b strings.Builder

	addr := d.MemoryAddress
	for row := 0; row < rows && addr+16 <= vm.MemorySize; row++ {
		fmt.Fprintf(&b, "[green]%5d[white]  % x\n", addr, d.Machine.Memory.Data[addr:addr+16])
		addr += 16
	}
	d.MemoryView.SetText(b.String())
}

func stateName(s vm.ExecutionState) string {
	switch s {
	case vm.StateReady:
		return "ready"
	case vm.StateRunning:
		return "running"
	case vm.StateHalted:
		return "halted"
	case vm.StateError:
		return "error"
	}
	return "?"
}
