package vcnl4020

// DefaultAddress is the 7-bit bus address of the VCNL4020C.
const DefaultAddress = 0x13

// Expected contents of the product ID / revision register.
const (
	ProductID  = 0x02
	RevisionID = 0x01
)

const (
	regCommand     byte = 0x80
	regProductID   byte = 0x81
	regBioRate     byte = 0x82
	regLEDCurrent  byte = 0x83
	regALSParam    byte = 0x84
	regALSResultH  byte = 0x85
	regALSResultL  byte = 0x86
	regBioResultH  byte = 0x87
	regBioResultL  byte = 0x88
	regIntControl  byte = 0x89
	regLowThreshH  byte = 0x8A
	regLowThreshL  byte = 0x8B
	regHighThreshH byte = 0x8C
	regHighThreshL byte = 0x8D
	regIntStatus   byte = 0x8E
	regBioMod      byte = 0x8F
)

/*
Command register (0x80)

	bit 7 config_lock   read only, always 1
	bit 6 als_data_rdy  read only, cleared when an ALS result register is read
	bit 5 bs_data_rdy   read only, cleared when a bio result register is read
	bit 4 als_od        start a single on-demand ALS measurement
	bit 3 bs_od         start a single on-demand bio measurement
	bit 2 als_en        enable periodic ALS measurement
	bit 1 bs_en         enable periodic bio measurement
	bit 0 selftimed_en  enable the state machine and LP oscillator
*/
const (
	cmdSelfTimedEnable byte = 0b00000001
	cmdPeriodicBio     byte = 0b00000010
	cmdPeriodicALS     byte = 0b00000100
	cmdOnDemandBio     byte = 0b00001000
	cmdOnDemandALS     byte = 0b00010000
	cmdBioDataReady    byte = 0b00100000
	cmdALSDataReady    byte = 0b01000000
	cmdConfigLock      byte = 0b10000000
)

// product ID register: product on the high nibble, revision on the low one
const (
	prodIDShift       = 4
	revisionMask byte = 0b00001111
)

// bio rate register uses bits 2:0
const bioRateMask byte = 0b00000111

// LED current register: fuse program ID is read only
const (
	fuseMask    byte = 0b11000000
	fuseShift        = 6
	currentMask byte = 0b00111111
	maxCurrent       = 20
)

/*
ALS parameter register (0x84)

	bit 7     continuous conversion mode
	bits 6:4  measurement rate
	bit 3     automatic offset compensation
	bits 2:0  averaging, 2^n conversions
*/
const (
	alsContConv      byte = 0b10000000
	alsRateMask      byte = 0b01110000
	alsRateShift          = 4
	alsAutoOffset    byte = 0b00001000
	alsAveragingMask byte = 0b00000111
)

/*
Interrupt control register (0x89)

	bits 7:5  consecutive measurements needed above/below the threshold, 2^n
	bit 4     unused
	bit 3     bio data ready interrupt enable
	bit 2     ALS data ready interrupt enable
	bit 1     threshold interrupt enable
	bit 0     threshold target (0 bio, 1 ALS)
*/
const (
	intCountMask    byte = 0b11100000
	intCountShift        = 5
	intBioReadyEn   byte = 0b00001000
	intALSReadyEn   byte = 0b00000100
	intThresholdEn  byte = 0b00000010
	intThresholdALS byte = 0b00000001
)

// Interrupt status register (0x8E). Bits are cleared by writing 1 to them.
const (
	statusBioReady      byte = 0b00001000
	statusALSReady      byte = 0b00000100
	statusThresholdLow  byte = 0b00000010
	statusThresholdHigh byte = 0b00000001
	statusAll                = statusBioReady | statusALSReady | statusThresholdLow | statusThresholdHigh
)

/*
Biosensor modulator timing adjustment (0x8F)

	bits 7:5  modulation delay time
	bits 4:3  biosensor frequency
	bits 2:0  modulation dead time
*/
const (
	modDelayMask      byte = 0b11100000
	modDelayShift          = 5
	modFrequencyMask  byte = 0b00011000
	modFrequencyShift      = 3
	modDeadTimeMask   byte = 0b00000111

	// delay 0, dead time 1, frequency 390.625 kHz
	modRecommended byte = 0b00000001
)
