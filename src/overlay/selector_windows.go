//go:build windows

package overlay

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"github.com/lxn/win"

	"screen-ocr-ai/src/screenshot"
)

const (
	wsExLayered    = 0x00080000
	wsExToolWindow = 0x00000080
	lwaAlpha       = 0x2
	overlayAlpha   = 90
	hintText       = "Drag to select a region. ESC or right click cancels."
)

var (
	user32                       = syscall.NewLazyDLL("user32.dll")
	gdi32                        = syscall.NewLazyDLL("gdi32.dll")
	procAllowSetForegroundWindow = user32.NewProc("AllowSetForegroundWindow")
	procSetLayeredWindowAttrs    = user32.NewProc("SetLayeredWindowAttributes")
	procCreatePen                = gdi32.NewProc("CreatePen")
	procRectangle                = gdi32.NewProc("Rectangle")

	registerOnce sync.Once
	registerErr  error
	className    *uint16
	crossCursor  win.HCURSOR

	// selectMu serializes selections; active is only touched on the
	// selection's own OS thread while selectMu is held.
	selectMu sync.Mutex
	active   *dragState
)

type dragState struct {
	originX, originY int32
	selecting        bool
	startX, startY   int32
	endX, endY       int32
	region           *screenshot.Region
}

func (d *dragState) selection() screenshot.Region {
	left, top := min(d.startX, d.endX), min(d.startY, d.endY)
	return screenshot.Region{
		X:      float64(left + d.originX),
		Y:      float64(top + d.originY),
		Width:  float64(abs32(d.endX - d.startX)),
		Height: float64(abs32(d.endY - d.startY)),
	}
}

// windowsSelector shows a dimmed topmost window over the virtual screen and
// reports the dragged rectangle.
type windowsSelector struct{}

func newPlatformSelector() Selector { return windowsSelector{} }

func (windowsSelector) Select(ctx context.Context) (screenshot.Region, bool, error) {
	selectMu.Lock()
	defer selectMu.Unlock()

	type outcome struct {
		region *screenshot.Region
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		// The window and its message queue belong to this thread, which
		// exits with the goroutine so no stray WM_QUIT survives.
		runtime.LockOSThread()
		r, err := runSelection(ctx)
		ch <- outcome{region: r, err: err}
	}()

	o := <-ch
	if o.err != nil {
		return screenshot.Region{}, false, o.err
	}
	if o.region == nil {
		return screenshot.Region{}, true, nil
	}
	return *o.region, false, nil
}

func registerClass() {
	className = syscall.StringToUTF16Ptr("ScreenOCRAIOverlay")
	crossCursor = win.LoadCursor(0, win.MAKEINTRESOURCE(win.IDC_CROSS))
	wc := win.WNDCLASSEX{
		CbSize:        uint32(unsafe.Sizeof(win.WNDCLASSEX{})),
		Style:         win.CS_HREDRAW | win.CS_VREDRAW,
		LpfnWndProc:   syscall.NewCallback(wndProc),
		HInstance:     win.GetModuleHandle(nil),
		HCursor:       crossCursor,
		HbrBackground: win.HBRUSH(win.GetStockObject(win.BLACK_BRUSH)),
		LpszClassName: className,
	}
	if win.RegisterClassEx(&wc) == 0 {
		registerErr = errors.New("failed to register overlay window class")
	}
}

func runSelection(ctx context.Context) (*screenshot.Region, error) {
	registerOnce.Do(registerClass)
	if registerErr != nil {
		return nil, registerErr
	}

	vx := win.GetSystemMetrics(win.SM_XVIRTUALSCREEN)
	vy := win.GetSystemMetrics(win.SM_YVIRTUALSCREEN)
	vw := win.GetSystemMetrics(win.SM_CXVIRTUALSCREEN)
	vh := win.GetSystemMetrics(win.SM_CYVIRTUALSCREEN)
	slog.Debug("overlay covering virtual screen", "x", vx, "y", vy, "width", vw, "height", vh)

	st := &dragState{originX: vx, originY: vy}
	active = st
	defer func() { active = nil }()

	hwnd := win.CreateWindowEx(
		win.WS_EX_TOPMOST|wsExLayered|wsExToolWindow,
		className,
		syscall.StringToUTF16Ptr("Select Region"),
		win.WS_POPUP|win.WS_VISIBLE,
		vx, vy, vw, vh,
		0, 0, win.GetModuleHandle(nil), nil,
	)
	if hwnd == 0 {
		return nil, errors.New("failed to create overlay window")
	}
	procSetLayeredWindowAttrs.Call(uintptr(hwnd), 0, overlayAlpha, lwaAlpha)

	win.ShowWindow(hwnd, win.SW_SHOW)
	procAllowSetForegroundWindow.Call(uintptr(os.Getpid()))
	win.SetForegroundWindow(hwnd)
	win.BringWindowToTop(hwnd)
	win.SetFocus(hwnd)
	win.UpdateWindow(hwnd)

	stop := context.AfterFunc(ctx, func() {
		win.PostMessage(hwnd, win.WM_CLOSE, 0, 0)
	})
	defer stop()

	var msg win.MSG
	for {
		ret := win.GetMessage(&msg, 0, 0, 0)
		if ret == 0 || ret == -1 {
			break
		}
		win.TranslateMessage(&msg)
		win.DispatchMessage(&msg)
	}
	return st.region, nil
}

func wndProc(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	st := active

	switch msg {
	case win.WM_LBUTTONDOWN:
		if st == nil {
			break
		}
		x, y := pointFrom(lParam)
		win.SetCapture(hwnd)
		st.selecting = true
		st.startX, st.startY, st.endX, st.endY = x, y, x, y
		win.InvalidateRect(hwnd, nil, true)
		return 0

	case win.WM_MOUSEMOVE:
		if st != nil && st.selecting {
			st.endX, st.endY = pointFrom(lParam)
			win.InvalidateRect(hwnd, nil, true)
		}
		return 0

	case win.WM_LBUTTONUP:
		if st != nil && st.selecting {
			win.ReleaseCapture()
			st.selecting = false
			st.endX, st.endY = pointFrom(lParam)
			r := st.selection()
			st.region = &r
			win.DestroyWindow(hwnd)
		}
		return 0

	case win.WM_RBUTTONUP:
		win.DestroyWindow(hwnd)
		return 0

	case win.WM_KEYDOWN:
		if wParam == win.VK_ESCAPE {
			win.DestroyWindow(hwnd)
		}
		return 0

	case win.WM_PAINT:
		var ps win.PAINTSTRUCT
		hdc := win.BeginPaint(hwnd, &ps)
		win.SetBkMode(hdc, win.TRANSPARENT)
		win.SetTextColor(hdc, win.COLORREF(0x00FFFF))
		win.TextOut(hdc, 16, 16, syscall.StringToUTF16Ptr(hintText), int32(len(hintText)))
		if st != nil && st.selecting {
			drawSelectionRectangle(hdc, st.startX, st.startY, st.endX, st.endY)
		}
		win.EndPaint(hwnd, &ps)
		return 0

	case win.WM_SETCURSOR:
		if crossCursor != 0 {
			win.SetCursor(crossCursor)
		}
		return 1

	case win.WM_NCHITTEST:
		return uintptr(win.HTCLIENT)

	case win.WM_CLOSE:
		win.DestroyWindow(hwnd)
		return 0

	case win.WM_DESTROY:
		win.PostQuitMessage(0)
		return 0
	}

	return win.DefWindowProc(hwnd, msg, wParam, lParam)
}

// pointFrom extracts signed client coordinates from a mouse message.
func pointFrom(lParam uintptr) (int32, int32) {
	return int32(int16(win.LOWORD(uint32(lParam)))), int32(int16(win.HIWORD(uint32(lParam))))
}

func drawSelectionRectangle(hdc win.HDC, startX, startY, endX, endY int32) {
	redPen, _, _ := procCreatePen.Call(0, 3, 0x0000FF)
	oldPen := win.SelectObject(hdc, win.HGDIOBJ(redPen))
	oldBrush := win.SelectObject(hdc, win.GetStockObject(win.NULL_BRUSH))

	procRectangle.Call(uintptr(hdc),
		uintptr(min(startX, endX)), uintptr(min(startY, endY)),
		uintptr(max(startX, endX)), uintptr(max(startY, endY)))

	win.SelectObject(hdc, oldPen)
	win.SelectObject(hdc, oldBrush)
	win.DeleteObject(win.HGDIOBJ(redPen))
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}
