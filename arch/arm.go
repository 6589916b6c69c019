package arch

// One model covers all AArch32 flavors: ARM vs. Thumb encodings are
// selected by the preprocessor (__thumb__) and VFP argument registers
// are saved only under the hard-float ABI (__ARM_PCS_VFP), so the same
// generated file assembles correctly for armel, armhf and -mthumb
// builds.
func init() {
	register(&Model{
		Name:         "arm",
		PointerSize:  4,
		SymbolRelocs: []string{"R_ARM_ABS32", "R_ARM_GLOB_DAT"},
		tableText:    commonTable,
		trampText: `
  .globl {{.Sym}}
{{- if .Hidden}}
  .hidden {{.Sym}}
{{- end}}
  .p2align 2
  .type {{.Sym}}, %function
#ifdef __thumb__
  .thumb_func
#endif
{{.Sym}}:
  ldr ip, 3f
1:
  add ip, pc
  ldr ip, [ip]
  cmp ip, #0
  beq 2f
  bx ip
2:
  ldr ip, 4f
  b _{{.Tag}}_save_regs_and_resolve
  .p2align 2
3:
  .word _{{.Tag}}_tramp_table+{{.Offset}} - (1b + PC_BIAS)
4:
  .word {{.Number}}
`,
		glueText: `
  .text
  .syntax unified

#ifdef __thumb__
  .thumb
#define PC_BIAS 4
#else
#define PC_BIAS 8
#endif

  .globl _{{.Tag}}_tramp_resolve
  .hidden _{{.Tag}}_tramp_resolve

  // Expects the symbol index in ip. Ends by jumping to the freshly
  // resolved address, so AAPCS argument registers pass through
  // untouched.
  .globl _{{.Tag}}_save_regs_and_resolve
  .hidden _{{.Tag}}_save_regs_and_resolve
  .type _{{.Tag}}_save_regs_and_resolve, %function
#ifdef __thumb__
  .thumb_func
#endif
_{{.Tag}}_save_regs_and_resolve:
  // r4 survives the resolve call and keeps the slot index.
  push {r0-r4, lr}
#ifdef __ARM_PCS_VFP
  vpush {d0-d7}
#endif
  mov r4, ip
  mov r0, ip
  bl _{{.Tag}}_tramp_resolve
  ldr ip, 2f
1:
  add ip, pc
  ldr ip, [ip, r4, lsl #2]
#ifdef __ARM_PCS_VFP
  vpop {d0-d7}
#endif
  pop {r0-r4, lr}
  bx ip
  .p2align 2
2:
  .word _{{.Tag}}_tramp_table - (1b + PC_BIAS)
`,
	})
}
