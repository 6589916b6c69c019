package arch

// Two independent models: powerpc64le follows the ELFv2 ABI (dual
// entry points, TOC in r2 computed from r12), while big-endian
// powerpc64 follows ELFv1, where every function symbol is an .opd
// descriptor and an indirect jump must load entry, TOC and environment
// from the descriptor the resolver returned.

func init() {
	register(&Model{
		Name:         "powerpc64le",
		PointerSize:  8,
		SymbolRelocs: []string{"R_PPC64_ADDR64", "R_PPC64_GLOB_DAT"},
		tableText:    commonTable,
		trampText: `
  .globl {{.Sym}}
{{- if .Hidden}}
  .hidden {{.Sym}}
{{- end}}
  .p2align 4
  .type {{.Sym}}, @function
{{.Sym}}:
  .cfi_startproc
0:
  addis %r2, %r12, .TOC.-0b@ha
  addi %r2, %r2, .TOC.-0b@l
  .localentry {{.Sym}}, .-{{.Sym}}
1:
  addis %r11, %r2, _{{.Tag}}_tramp_table+{{.Offset}}@toc@ha
  ld %r12, _{{.Tag}}_tramp_table+{{.Offset}}@toc@l(%r11)
  cmpdi %r12, 0
  beq 2f
  // ELFv2 callees locate their TOC from r12.
  mtctr %r12
  bctr
2:
  mflr %r0
  std %r0, 16(%r1)
  stdu %r1, -32(%r1)
  .cfi_adjust_cfa_offset 32
  // lis/ori carry indices past the 16-bit immediate limit.
  lis %r11, ({{.Number}} >> 16)
  ori %r11, %r11, ({{.Number}} & 0xffff)
  bl _{{.Tag}}_save_regs_and_resolve
  addi %r1, %r1, 32
  .cfi_adjust_cfa_offset -32
  ld %r0, 16(%r1)
  mtlr %r0
  b 1b
  .cfi_endproc
`,
		glueText: `
  .text

  .globl _{{.Tag}}_tramp_resolve
  .hidden _{{.Tag}}_tramp_resolve

  // Expects the symbol index in r11 and a valid module TOC in r2.
  .globl _{{.Tag}}_save_regs_and_resolve
  .hidden _{{.Tag}}_save_regs_and_resolve
  .type _{{.Tag}}_save_regs_and_resolve, @function
_{{.Tag}}_save_regs_and_resolve:
  .cfi_startproc
  mflr %r0
  std %r0, 16(%r1)
  stdu %r1, -208(%r1)
  .cfi_adjust_cfa_offset 208
  std %r2, 24(%r1)
  std %r3, 32(%r1)
  std %r4, 40(%r1)
  std %r5, 48(%r1)
  std %r6, 56(%r1)
  std %r7, 64(%r1)
  std %r8, 72(%r1)
  std %r9, 80(%r1)
  std %r10, 88(%r1)
  stfd %f1, 96(%r1)
  stfd %f2, 104(%r1)
  stfd %f3, 112(%r1)
  stfd %f4, 120(%r1)
  stfd %f5, 128(%r1)
  stfd %f6, 136(%r1)
  stfd %f7, 144(%r1)
  stfd %f8, 152(%r1)
  stfd %f9, 160(%r1)
  stfd %f10, 168(%r1)
  stfd %f11, 176(%r1)
  stfd %f12, 184(%r1)
  stfd %f13, 192(%r1)

  mr %r3, %r11
  addis %r12, %r2, _{{.Tag}}_tramp_resolve@toc@ha
  addi %r12, %r12, _{{.Tag}}_tramp_resolve@toc@l
  mtctr %r12
  bctrl
  ld %r2, 24(%r1)

  lfd %f13, 192(%r1)
  lfd %f12, 184(%r1)
  lfd %f11, 176(%r1)
  lfd %f10, 168(%r1)
  lfd %f9, 160(%r1)
  lfd %f8, 152(%r1)
  lfd %f7, 144(%r1)
  lfd %f6, 136(%r1)
  lfd %f5, 128(%r1)
  lfd %f4, 120(%r1)
  lfd %f3, 112(%r1)
  lfd %f2, 104(%r1)
  lfd %f1, 96(%r1)
  ld %r10, 88(%r1)
  ld %r9, 80(%r1)
  ld %r8, 72(%r1)
  ld %r7, 64(%r1)
  ld %r6, 56(%r1)
  ld %r5, 48(%r1)
  ld %r4, 40(%r1)
  ld %r3, 32(%r1)
  addi %r1, %r1, 208
  .cfi_adjust_cfa_offset -208
  ld %r0, 16(%r1)
  mtlr %r0
  blr
  .cfi_endproc
`,
	})

	register(&Model{
		Name:         "powerpc64",
		PointerSize:  8,
		SymbolRelocs: []string{"R_PPC64_ADDR64", "R_PPC64_GLOB_DAT"},
		tableText:    commonTable,
		trampText: `
  .globl {{.Sym}}
{{- if .Hidden}}
  .hidden {{.Sym}}
{{- end}}
  .section ".opd", "aw"
  .balign 8
{{.Sym}}:
  .quad .L.{{.Sym}}, .TOC.@tocbase, 0
  .previous
  .type {{.Sym}}, @function
  .text
  .p2align 4
.L.{{.Sym}}:
  .cfi_startproc
1:
  addis %r11, %r2, _{{.Tag}}_tramp_table+{{.Offset}}@toc@ha
  ld %r11, _{{.Tag}}_tramp_table+{{.Offset}}@toc@l(%r11)
  cmpdi %r11, 0
  beq 2f
  // The slot holds the callee's function descriptor.
  ld %r12, 0(%r11)
  ld %r2, 8(%r11)
  ld %r11, 16(%r11)
  mtctr %r12
  bctr
2:
  mflr %r0
  std %r0, 16(%r1)
  stdu %r1, -112(%r1)
  .cfi_adjust_cfa_offset 112
  // lis/ori carry indices past the 16-bit immediate limit.
  lis %r11, ({{.Number}} >> 16)
  ori %r11, %r11, ({{.Number}} & 0xffff)
  bl _{{.Tag}}_save_regs_and_resolve
  addi %r1, %r1, 112
  .cfi_adjust_cfa_offset -112
  ld %r0, 16(%r1)
  mtlr %r0
  b 1b
  .cfi_endproc
`,
		glueText: `
  .text

  .globl _{{.Tag}}_tramp_resolve
  .hidden _{{.Tag}}_tramp_resolve

  // Plain code label, reachable only from the stubs in this module;
  // no .opd descriptor is needed. Expects the symbol index in r11.
  .globl _{{.Tag}}_save_regs_and_resolve
  .hidden _{{.Tag}}_save_regs_and_resolve
  .type _{{.Tag}}_save_regs_and_resolve, @function
_{{.Tag}}_save_regs_and_resolve:
  .cfi_startproc
  mflr %r0
  std %r0, 16(%r1)
  stdu %r1, -288(%r1)
  .cfi_adjust_cfa_offset 288
  std %r2, 40(%r1)
  std %r3, 112(%r1)
  std %r4, 120(%r1)
  std %r5, 128(%r1)
  std %r6, 136(%r1)
  std %r7, 144(%r1)
  std %r8, 152(%r1)
  std %r9, 160(%r1)
  std %r10, 168(%r1)
  stfd %f1, 176(%r1)
  stfd %f2, 184(%r1)
  stfd %f3, 192(%r1)
  stfd %f4, 200(%r1)
  stfd %f5, 208(%r1)
  stfd %f6, 216(%r1)
  stfd %f7, 224(%r1)
  stfd %f8, 232(%r1)
  stfd %f9, 240(%r1)
  stfd %f10, 248(%r1)
  stfd %f11, 256(%r1)
  stfd %f12, 264(%r1)
  stfd %f13, 272(%r1)

  mr %r3, %r11
  // _tramp_resolve is C code, so its symbol is a descriptor.
  addis %r12, %r2, _{{.Tag}}_tramp_resolve@toc@ha
  addi %r12, %r12, _{{.Tag}}_tramp_resolve@toc@l
  ld %r0, 0(%r12)
  ld %r2, 8(%r12)
  mtctr %r0
  bctrl
  ld %r2, 40(%r1)

  lfd %f13, 272(%r1)
  lfd %f12, 264(%r1)
  lfd %f11, 256(%r1)
  lfd %f10, 248(%r1)
  lfd %f9, 240(%r1)
  lfd %f8, 232(%r1)
  lfd %f7, 224(%r1)
  lfd %f6, 216(%r1)
  lfd %f5, 208(%r1)
  lfd %f4, 200(%r1)
  lfd %f3, 192(%r1)
  lfd %f2, 184(%r1)
  lfd %f1, 176(%r1)
  ld %r10, 168(%r1)
  ld %r9, 160(%r1)
  ld %r8, 152(%r1)
  ld %r7, 144(%r1)
  ld %r6, 136(%r1)
  ld %r5, 128(%r1)
  ld %r4, 120(%r1)
  ld %r3, 112(%r1)
  addi %r1, %r1, 288
  .cfi_adjust_cfa_offset -288
  ld %r0, 16(%r1)
  mtlr %r0
  blr
  .cfi_endproc
`,
	})
}
