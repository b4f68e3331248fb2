package link

// UPDI instruction set. Every frame starts with a SYNC character; the
// opcode byte selects the operation and its size bits.
const (
	OpLDS    = 0x00
	OpSTS    = 0x40
	OpLD     = 0x20
	OpST     = 0x60
	OpLDCS   = 0x80
	OpSTCS   = 0xC0
	OpRepeat = 0xA0
	OpKey    = 0xE0
)

// Pointer access modes for LD/ST.
const (
	PtrIndirect = 0x00
	PtrInc      = 0x04
	PtrAddress  = 0x08
)

// Address and data size bits.
const (
	Address8  = 0x00
	Address16 = 0x04
	Data8     = 0x00
	Data16    = 0x01
)

// KEY instruction variants.
const (
	KeyWrite    = 0x00
	KeySIB      = 0x04
	Key64       = 0x00
	Key128      = 0x01
	SIB16Bytes  = 0x01
	RepeatWord  = 0x01
)

// Physical layer characters.
const (
	Sync      = 0x55
	Ack       = 0x40
	BreakChar = 0x00
)

// MaxRepeat is the highest value the REPEAT instruction accepts, giving
// MaxRepeat+1 transfers per pointer operation.
const MaxRepeat = 0xFF

// Control/status space registers.
const (
	CSStatusA      = 0x00
	CSStatusB      = 0x01
	CSCtrlA        = 0x02
	CSCtrlB        = 0x03
	ASIKeyStatus   = 0x07
	ASIResetReq    = 0x08
	ASICtrlA       = 0x09
	ASISysCtrlA    = 0x0A
	ASISysStatus   = 0x0B
	ASICRCStatus   = 0x0C
)

// Bits within the control/status registers.
const (
	CtrlAIBDlyBit         = 7
	CtrlBCCDetDisBit      = 3
	CtrlBUPDIDisBit       = 2
	KeyStatusChipErase    = 3
	KeyStatusNVMProg      = 4
	KeyStatusUROWWrite    = 5
	SysStatusRstSys       = 5
	SysStatusInSleep      = 4
	SysStatusNVMProg      = 3
	SysStatusUROWProg     = 2
	SysStatusLockStatus   = 0
)

// ResetReqValue written to ASIResetReq applies a reset; zero releases it.
const ResetReqValue = 0x59

// 64-bit activation keys, transmitted in reverse byte order.
const (
	KeyNVMProg   = "NVMProg "
	KeyChipErase = "NVMErase"
	KeyUROWWrite = "NVMUs&te"
)

// NVM controller register offsets from the NVMCTRL base address.
const (
	NVMCtrlA    = 0x00
	NVMCtrlB    = 0x01
	NVMStatus   = 0x02
	NVMIntCtrl  = 0x03
	NVMIntFlags = 0x04
	NVMDataL    = 0x06
	NVMDataH    = 0x07
	NVMAddrL    = 0x08
	NVMAddrH    = 0x09
)

// NVM controller commands written to NVMCtrlA.
const (
	NVMCmdWritePage      = 0x01
	NVMCmdErasePage      = 0x02
	NVMCmdEraseWritePage = 0x03
	NVMCmdPageBufferClr  = 0x04
	NVMCmdChipErase      = 0x05
	NVMCmdEraseEEPROM    = 0x06
	NVMCmdWriteFuse      = 0x07
)

// NVM controller status bits.
const (
	NVMStatusFlashBusy  = 0
	NVMStatusEEPROMBusy = 1
	NVMStatusWriteError = 2
)
